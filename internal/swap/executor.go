// internal/swap/executor.go
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/events"
	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

// TxResult is the outcome of one confirmed swap submission.
type TxResult struct {
	Signature string
	InAmount  uint64
	OutAmount uint64
	Success   bool
}

// Config bounds the executor's behavior per transaction.
type Config struct {
	SlippageBps         int
	PriorityFeeLamports uint64
	NotTradableRetries  int
	NotTradableDelay    time.Duration
}

// Executor performs the two-step buy/sell construction and submission.
// Position state is never touched here; a failure leaves nothing half
// mutated.
type Executor struct {
	agg     Aggregator
	limiter *ratelimit.Limiter
	metrics *metrics.Collector
	bus     *events.Bus
	logger  *zap.Logger
	cfg     Config
}

// NewExecutor creates a swap executor.
func NewExecutor(agg Aggregator, limiter *ratelimit.Limiter, mc *metrics.Collector, bus *events.Bus, logger *zap.Logger, cfg Config) *Executor {
	return &Executor{
		agg:     agg,
		limiter: limiter,
		metrics: mc,
		bus:     bus,
		logger:  logger.Named("swap"),
		cfg:     cfg,
	}
}

// Buy swaps amountLamports of the paired asset into token.
func (e *Executor) Buy(ctx context.Context, paired, token solana.PublicKey, amountLamports uint64) (*TxResult, error) {
	return e.execute(ctx, "buy", paired, token, amountLamports)
}

// Sell swaps amountTokens of token back into the paired asset.
func (e *Executor) Sell(ctx context.Context, paired, token solana.PublicKey, amountTokens uint64) (*TxResult, error) {
	return e.execute(ctx, "sell", token, paired, amountTokens)
}

func (e *Executor) execute(ctx context.Context, side string, inputMint, outputMint solana.PublicKey, amount uint64) (*TxResult, error) {
	start := time.Now()

	attempt := func() (*TxResult, error) {
		// Quote calls share the "quote" window; the budget is checked
		// per attempt so retries do not smuggle past the ceiling.
		if !e.limiter.Acquire(ctx.Done(), ratelimit.ResourceQuote) {
			return nil, backoff.Permanent(ctx.Err())
		}

		quote, err := e.agg.Quote(ctx, inputMint, outputMint, amount, e.cfg.SlippageBps)
		if err != nil {
			if errors.Is(err, ErrNotTradable) {
				// The only retriable failure mode.
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		sig, err := e.agg.Swap(ctx, quote, e.cfg.PriorityFeeLamports)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		return &TxResult{
			Signature: sig,
			InAmount:  quote.InAmount,
			OutAmount: quote.OutAmount,
			Success:   true,
		}, nil
	}

	result, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.cfg.NotTradableDelay)),
		backoff.WithMaxTries(uint(e.cfg.NotTradableRetries+1)),
	)

	e.metrics.SwapDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.TradesExecuted.WithLabelValues(side, "failed").Inc()
		e.logger.Error("swap failed",
			zap.String("side", side),
			zap.String("input", inputMint.String()),
			zap.String("output", outputMint.String()),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", side, outputMint, err)
	}

	e.metrics.TradesExecuted.WithLabelValues(side, "confirmed").Inc()
	e.logger.Info("swap confirmed",
		zap.String("side", side),
		zap.String("signature", result.Signature),
		zap.Uint64("in_amount", result.InAmount),
		zap.Uint64("out_amount", result.OutAmount))

	if e.bus != nil {
		tokenMint := outputMint
		if side == "sell" {
			tokenMint = inputMint
		}
		_ = e.bus.Publish(events.TradeExecutedEvent{
			BaseEvent:   events.NewBase(events.TradeExecuted),
			Side:        side,
			TokenMint:   tokenMint.String(),
			InAmount:    result.InAmount,
			OutAmount:   result.OutAmount,
			TxSignature: result.Signature,
		})
	}
	return result, nil
}
