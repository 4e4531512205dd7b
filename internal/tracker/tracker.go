// internal/tracker/tracker.go
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/events"
	"github.com/sniperlabs/solsniper/internal/swap"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

// Status is the lifecycle of a position.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

// Exit reasons reported on close.
const (
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonManual     = "manual"
)

// sellGrace bounds how long an already-claimed exit may keep running
// once the run context is gone.
const sellGrace = 30 * time.Second

// Position is one open holding. Owned exclusively by the tracker from
// open to close.
type Position struct {
	ID         string
	TokenMint  solana.PublicKey
	PairedMint solana.PublicKey
	EntryPrice float64
	Size       uint64
	OpenedAt   time.Time
	Status     Status
	BuySig     string
}

// PriceSource fetches the current price for a token.
type PriceSource interface {
	Price(ctx context.Context, mint solana.PublicKey) (float64, error)
}

// Seller executes the exit swap. Satisfied by *swap.Executor.
type Seller interface {
	Sell(ctx context.Context, paired, token solana.PublicKey, amount uint64) (*swap.TxResult, error)
}

// Config holds the exit thresholds and polling cadence.
type Config struct {
	StopLossPercent   float64
	TakeProfitPercent float64
	PollInterval      time.Duration
}

// Tracker maintains every open position and reacts to price movement.
type Tracker struct {
	mu        sync.Mutex
	positions map[string]*Position // keyed by token mint
	inFlight  map[string]bool      // exit evaluation running for mint
	sweeps    sync.WaitGroup       // outstanding evaluation goroutines

	prices  PriceSource
	seller  Seller
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     Config
}

// New creates a tracker.
func New(prices PriceSource, seller Seller, bus *events.Bus, mc *metrics.Collector, logger *zap.Logger, cfg Config) *Tracker {
	return &Tracker{
		positions: make(map[string]*Position),
		inFlight:  make(map[string]bool),
		prices:    prices,
		seller:    seller,
		bus:       bus,
		metrics:   mc,
		logger:    logger.Named("tracker"),
		cfg:       cfg,
	}
}

// Open registers a confirmed buy as a new position. At most one OPEN
// position may exist per token mint.
func (t *Tracker) Open(tokenMint, pairedMint solana.PublicKey, entryPrice float64, size uint64, buySig string) (*Position, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %f", entryPrice)
	}
	if size == 0 {
		return nil, fmt.Errorf("position size cannot be zero")
	}

	t.mu.Lock()
	if existing, ok := t.positions[tokenMint.String()]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("position %s already open for token %s", existing.ID, tokenMint)
	}
	pos := &Position{
		ID:         uuid.New().String(),
		TokenMint:  tokenMint,
		PairedMint: pairedMint,
		EntryPrice: entryPrice,
		Size:       size,
		OpenedAt:   time.Now(),
		Status:     StatusOpen,
		BuySig:     buySig,
	}
	t.positions[tokenMint.String()] = pos
	open := len(t.positions)
	t.mu.Unlock()

	t.metrics.OpenPositions.Set(float64(open))
	t.logger.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("token", tokenMint.String()),
		zap.Float64("entry_price", entryPrice),
		zap.Uint64("size", size))

	if t.bus != nil {
		_ = t.bus.Publish(events.PositionOpenedEvent{
			BaseEvent:   events.NewBase(events.PositionOpened),
			PositionID:  pos.ID,
			TokenMint:   tokenMint.String(),
			EntryPrice:  entryPrice,
			Size:        size,
			TxSignature: buySig,
		})
	}
	return pos, nil
}

// Active returns a snapshot of the current positions.
func (t *Tracker) Active() []*Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Position, 0, len(t.positions))
	for _, p := range t.positions {
		clone := *p
		out = append(out, &clone)
	}
	return out
}

// Len returns the number of tracked positions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Close exits a position immediately with reason "manual".
func (t *Tracker) Close(ctx context.Context, tokenMint solana.PublicKey) error {
	t.mu.Lock()
	pos, ok := t.positions[tokenMint.String()]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("no position for token %s", tokenMint)
	}
	if pos.Status != StatusOpen {
		t.mu.Unlock()
		return fmt.Errorf("position %s is %s", pos.ID, pos.Status)
	}
	pos.Status = StatusClosing
	t.mu.Unlock()

	return t.sell(ctx, pos, ReasonManual, pos.EntryPrice)
}

// Run polls every open position until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("position tracker started",
		zap.Duration("poll_interval", t.cfg.PollInterval),
		zap.Float64("take_profit_percent", t.cfg.TakeProfitPercent),
		zap.Float64("stop_loss_percent", t.cfg.StopLossPercent))

	for {
		select {
		case <-ctx.Done():
			// An exit already claimed keeps running on its detached
			// context; wait for it so no sell is orphaned.
			t.sweeps.Wait()
			return ctx.Err()
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll runs one evaluation sweep over a snapshot of the active set, so
// concurrent opens and closes never corrupt the iteration.
func (t *Tracker) Poll(ctx context.Context) {
	for _, pos := range t.Active() {
		if pos.Status != StatusOpen {
			continue
		}

		t.mu.Lock()
		key := pos.TokenMint.String()
		if t.inFlight[key] {
			t.mu.Unlock()
			continue
		}
		t.inFlight[key] = true
		t.mu.Unlock()

		t.sweeps.Add(1)
		go func(mint string, tokenMint solana.PublicKey) {
			defer t.sweeps.Done()
			defer func() {
				t.mu.Lock()
				delete(t.inFlight, mint)
				t.mu.Unlock()
			}()
			t.evaluate(ctx, tokenMint)
		}(key, pos.TokenMint)
	}
}

// evaluate checks one position against the exit thresholds. Failures
// are contained per position; the next poll retries.
func (t *Tracker) evaluate(ctx context.Context, tokenMint solana.PublicKey) {
	current, err := t.prices.Price(ctx, tokenMint)
	if err != nil {
		t.logger.Warn("price fetch failed",
			zap.String("token", tokenMint.String()),
			zap.Error(err))
		return
	}

	t.mu.Lock()
	pos, ok := t.positions[tokenMint.String()]
	if !ok || pos.Status != StatusOpen {
		t.mu.Unlock()
		return
	}

	pnl := pnlPercent(pos.EntryPrice, current)
	var reason string
	switch {
	case pnl >= t.cfg.TakeProfitPercent:
		reason = ReasonTakeProfit
	case pnl <= -t.cfg.StopLossPercent:
		reason = ReasonStopLoss
	default:
		t.mu.Unlock()
		return
	}
	// Once cancelled, no new exit starts.
	if ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	// Claim the exit before any network call so a concurrent pass
	// cannot issue a second sell.
	pos.Status = StatusClosing
	t.mu.Unlock()

	t.logger.Info("exit threshold reached",
		zap.String("token", tokenMint.String()),
		zap.Float64("pnl_percent", pnl),
		zap.Float64("current_price", current),
		zap.String("reason", reason))

	if err := t.sell(ctx, pos, reason, current); err != nil {
		t.logger.Error("exit failed, position stays open",
			zap.String("token", tokenMint.String()),
			zap.Error(err))
	}
}

// sell executes the exit swap for a CLOSING position. On failure the
// position reverts to OPEN for the next poll. The swap runs on a
// context detached from shutdown so a claimed exit always submits.
func (t *Tracker) sell(ctx context.Context, pos *Position, reason string, exitPrice float64) error {
	sellCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sellGrace)
	defer cancel()

	res, err := t.seller.Sell(sellCtx, pos.PairedMint, pos.TokenMint, pos.Size)
	if err != nil {
		t.mu.Lock()
		pos.Status = StatusOpen
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	pos.Status = StatusClosed
	delete(t.positions, pos.TokenMint.String())
	open := len(t.positions)
	t.mu.Unlock()

	pnl := pnlPercent(pos.EntryPrice, exitPrice)
	t.metrics.OpenPositions.Set(float64(open))
	t.logger.Info("position closed",
		zap.String("position_id", pos.ID),
		zap.String("token", pos.TokenMint.String()),
		zap.String("reason", reason),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl_percent", pnl),
		zap.Uint64("size", pos.Size),
		zap.String("signature", res.Signature))

	if t.bus != nil {
		_ = t.bus.Publish(events.PositionClosedEvent{
			BaseEvent:   events.NewBase(events.PositionClosed),
			PositionID:  pos.ID,
			TokenMint:   pos.TokenMint.String(),
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   exitPrice,
			PnLPercent:  pnl,
			Reason:      reason,
			TxSignature: res.Signature,
		})
	}
	return nil
}

func pnlPercent(entry, current float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (current - entry) / entry * 100
}
