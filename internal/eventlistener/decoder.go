// internal/eventlistener/decoder.go
package eventlistener

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/sniperlabs/solsniper/internal/pipeline"
	"github.com/sniperlabs/solsniper/internal/types"
)

// Raydium AMM v4 initialize2 account layout: the positions of the pool
// account and the two mints inside the instruction's account list.
const (
	poolAccountIndex = 4
	coinMintIndex    = 8
	pcMintIndex      = 9
)

var (
	// ErrNotPoolCreation marks events whose logs carry no pool-init
	// instruction. Not an error condition, just an irrelevant event.
	ErrNotPoolCreation = errors.New("event is not a pool creation")

	// ErrNotSolPair marks pools not paired against wrapped SOL.
	ErrNotSolPair = errors.New("pool is not paired against SOL")
)

// rpcMessage is the envelope of every inbound frame: notifications
// carry a method and params, control messages (subscription acks,
// error objects) carry a result or error instead.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notificationParams struct {
	Result struct {
		Value notificationValue `json:"value"`
	} `json:"result"`
	Subscription int64 `json:"subscription"`
}

// notificationValue is the payload of one logsNotification. Accounts is
// present when the upstream enriches notifications with the
// transaction's account keys.
type notificationValue struct {
	Signature string      `json:"signature"`
	Err       interface{} `json:"err"`
	Logs      []string    `json:"logs"`
	Accounts  []string    `json:"accounts,omitempty"`
}

// subscribeRequest builds the logsSubscribe request for the program of
// interest at the given commitment level.
func subscribeRequest(programID, commitment string) rpcMessage {
	params, _ := json.Marshal([]interface{}{
		map[string]interface{}{"mentions": []string{programID}},
		map[string]string{"commitment": commitment},
	})
	return rpcMessage{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params:  params,
	}
}

func decodeNotification(params json.RawMessage) (*notificationValue, error) {
	var p notificationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if p.Result.Value.Signature == "" {
		return nil, errors.New("notification missing signature")
	}
	if p.Result.Value.Logs == nil {
		return nil, errors.New("notification missing logs")
	}
	return &p.Result.Value, nil
}

// DecodeCandidate extracts the candidate token from a queued event. It
// requires an initialize2 marker in the logs and the enriched account
// list in the payload.
func DecodeCandidate(ev *pipeline.Event) (*types.CandidateToken, error) {
	if !hasPoolInitMarker(ev.Logs) {
		return nil, ErrNotPoolCreation
	}

	var p notificationParams
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	accounts := p.Result.Value.Accounts
	if len(accounts) <= pcMintIndex {
		return nil, fmt.Errorf("payload carries %d accounts, need %d", len(accounts), pcMintIndex+1)
	}

	pool, err := solana.PublicKeyFromBase58(accounts[poolAccountIndex])
	if err != nil {
		return nil, fmt.Errorf("bad pool key: %w", err)
	}
	coinMint, err := solana.PublicKeyFromBase58(accounts[coinMintIndex])
	if err != nil {
		return nil, fmt.Errorf("bad coin mint: %w", err)
	}
	pcMint, err := solana.PublicKeyFromBase58(accounts[pcMintIndex])
	if err != nil {
		return nil, fmt.Errorf("bad pc mint: %w", err)
	}

	var token solana.PublicKey
	switch {
	case coinMint.Equals(types.WrappedSOL):
		token = pcMint
	case pcMint.Equals(types.WrappedSOL):
		token = coinMint
	default:
		return nil, ErrNotSolPair
	}

	return &types.CandidateToken{
		Signature:  ev.ID,
		TokenMint:  token,
		PairedMint: types.WrappedSOL,
		PoolKey:    pool,
	}, nil
}

func hasPoolInitMarker(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "initialize2") || strings.Contains(line, "InitializeInstruction2") {
			return true
		}
	}
	return false
}
