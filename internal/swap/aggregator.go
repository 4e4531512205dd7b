// internal/swap/aggregator.go
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/wallet"
)

const aggregatorTimeout = 15 * time.Second

// ErrNotTradable marks the one retriable swap failure: the aggregator
// has not indexed the pool yet. Every other failure is terminal for the
// attempt.
var ErrNotTradable = errors.New("token not yet tradable")

// Quote is the achievable output for a swap, as returned by the
// aggregator's quote endpoint.
type Quote struct {
	InputMint   string          `json:"inputMint"`
	OutputMint  string          `json:"outputMint"`
	InAmount    uint64          `json:"inAmount,string"`
	OutAmount   uint64          `json:"outAmount,string"`
	SlippageBps int             `json:"slippageBps"`
	RoutePlan   json.RawMessage `json:"routePlan"`
}

// Aggregator is the two-step quote/swap surface of the exchange
// aggregator.
type Aggregator interface {
	Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*Quote, error)
	Swap(ctx context.Context, quote *Quote, priorityFeeLamports uint64) (string, error)
}

// Client talks to a Jupiter-style aggregator: quote over HTTP, swap
// construction over HTTP, then sign locally and submit through RPC.
type Client struct {
	baseURL string
	http    *http.Client
	rpc     *rpc.Client
	wallet  *wallet.Wallet
	logger  *zap.Logger
}

// NewClient creates an aggregator client.
func NewClient(baseURL string, rpcClient *rpc.Client, w *wallet.Wallet, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: aggregatorTimeout},
		rpc:     rpcClient,
		wallet:  w,
		logger:  logger.Named("aggregator"),
	}
}

type quoteResponse struct {
	Quote
	ErrorCode string `json:"errorCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Quote fetches the achievable output amount and route.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*Quote, error) {
	url := fmt.Sprintf("%s/v6/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, inputMint, outputMint, amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote fetch: %w", err)
	}
	defer resp.Body.Close()

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	switch body.ErrorCode {
	case "":
	case "TOKEN_NOT_TRADABLE", "COULD_NOT_FIND_ANY_ROUTE":
		return nil, fmt.Errorf("%w: %s", ErrNotTradable, body.ErrorCode)
	default:
		return nil, fmt.Errorf("quote refused: %s (%s)", body.Error, body.ErrorCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned %d", resp.StatusCode)
	}

	return &body.Quote, nil
}

type swapRequest struct {
	QuoteResponse             *Quote `json:"quoteResponse"`
	UserPublicKey             string `json:"userPublicKey"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
	WrapAndUnwrapSol          bool   `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error,omitempty"`
}

// Swap asks the aggregator to build the transaction for quote, signs it
// locally and submits it, returning the transaction signature.
func (c *Client) Swap(ctx context.Context, quote *Quote, priorityFeeLamports uint64) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quote,
		UserPublicKey:             c.wallet.PublicKey.String(),
		PrioritizationFeeLamports: priorityFeeLamports,
		WrapAndUnwrapSol:          true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v6/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("swap build: %w", err)
	}
	defer resp.Body.Close()

	var body swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("swap refused: %s", body.Error)
	}
	if body.SwapTransaction == "" {
		return "", errors.New("swap response missing transaction")
	}

	tx, err := solana.TransactionFromBase64(body.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("parse transaction: %w", err)
	}
	if err := c.wallet.SignTransaction(tx); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}

	c.logger.Info("transaction submitted", zap.String("signature", sig.String()))
	return sig.String(), nil
}
