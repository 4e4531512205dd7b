// internal/sniping/sniper.go
package sniping

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sniperlabs/solsniper/internal/eventlistener"
	"github.com/sniperlabs/solsniper/internal/events"
	"github.com/sniperlabs/solsniper/internal/pipeline"
	"github.com/sniperlabs/solsniper/internal/screener"
	"github.com/sniperlabs/solsniper/internal/swap"
	"github.com/sniperlabs/solsniper/internal/tracker"
	"github.com/sniperlabs/solsniper/internal/types"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

// drainPollInterval is the fallback cadence for checking the queue when
// no push notification arrives.
const drainPollInterval = 200 * time.Millisecond

// inFlightGrace bounds how long an already-started buy may keep running
// once the run context is gone.
const inFlightGrace = 30 * time.Second

// Screener evaluates a candidate against the safety policy.
type Screener interface {
	Assess(ctx context.Context, cand *types.CandidateToken) *screener.Verdict
}

// Buyer submits the entry swap. Satisfied by *swap.Executor.
type Buyer interface {
	Buy(ctx context.Context, paired, token solana.PublicKey, amountLamports uint64) (*swap.TxResult, error)
}

// Opener registers a confirmed buy for exit tracking. Satisfied by
// *tracker.Tracker.
type Opener interface {
	Open(tokenMint, pairedMint solana.PublicKey, entryPrice float64, size uint64, buySig string) (*tracker.Position, error)
}

// Config bounds the drain loop.
type Config struct {
	MaxConcurrent     int64
	BatchSize         int
	TransactionDelay  time.Duration
	BuyAmountLamports uint64
}

// Sniper drains the event queue at the configured concurrency, screens
// each candidate and executes the buy. One failing item never halts the
// loop.
type Sniper struct {
	queue     *pipeline.Queue
	screener  Screener
	buyer     Buyer
	positions Opener
	bus       *events.Bus
	metrics   *metrics.Collector
	logger    *zap.Logger
	sem       *semaphore.Weighted
	cfg       Config

	// decode is swappable in tests; defaults to the listener's decoder.
	decode func(*pipeline.Event) (*types.CandidateToken, error)
}

// New creates a sniper over the given queue.
func New(queue *pipeline.Queue, scr Screener, buyer Buyer, positions Opener, bus *events.Bus, mc *metrics.Collector, logger *zap.Logger, cfg Config) *Sniper {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Sniper{
		queue:     queue,
		screener:  scr,
		buyer:     buyer,
		positions: positions,
		bus:       bus,
		metrics:   mc,
		logger:    logger.Named("sniper"),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:       cfg,
		decode:    eventlistener.DecodeCandidate,
	}
}

// Run drains the queue until the context is cancelled. In-flight items
// finish; no new item starts after cancellation.
func (s *Sniper) Run(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	s.logger.Info("sniper started",
		zap.Int64("max_concurrent", s.cfg.MaxConcurrent),
		zap.Duration("transaction_delay", s.cfg.TransactionDelay))

	for {
		select {
		case <-ctx.Done():
			s.waitForWorkers()
			return ctx.Err()
		case <-s.queue.Wait():
		case <-ticker.C:
		}
		if err := s.drain(ctx); err != nil {
			s.waitForWorkers()
			return err
		}
	}
}

// waitForWorkers blocks until every launched worker has released its
// slot, so Run never returns with a swap still in flight. Bounded by
// the same grace the swaps themselves get.
func (s *Sniper) waitForWorkers() {
	ctx, cancel := context.WithTimeout(context.Background(), inFlightGrace)
	defer cancel()
	if err := s.sem.Acquire(ctx, s.cfg.MaxConcurrent); err != nil {
		s.logger.Warn("shutdown grace elapsed with workers still running", zap.Error(err))
		return
	}
	s.sem.Release(s.cfg.MaxConcurrent)
}

func (s *Sniper) drain(ctx context.Context) error {
	for {
		batch := s.queue.PopBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			s.metrics.QueueDepth.Set(0)
			return nil
		}
		s.metrics.QueueDepth.Set(float64(s.queue.Len()))

		for _, ev := range batch {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go func(ev *pipeline.Event) {
				defer s.sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("panic while processing event",
							zap.String("event_id", ev.ID),
							zap.Any("panic", r))
					}
				}()
				s.process(ctx, ev)
			}(ev)

			if s.cfg.TransactionDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.cfg.TransactionDelay):
				}
			}
		}
	}
}

// process runs one event end to end: decode, screen, buy, track.
func (s *Sniper) process(ctx context.Context, ev *pipeline.Event) {
	cand, err := s.decode(ev)
	if err != nil {
		s.metrics.EventsDropped.WithLabelValues("irrelevant").Inc()
		s.logger.Debug("event not actionable",
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return
	}

	verdict := s.screener.Assess(ctx, cand)
	s.publishDetected(cand, verdict)
	if !verdict.Passed {
		return
	}

	// Once cancelled, no new buy starts; a buy already past this point
	// runs to completion on a context detached from shutdown so a
	// submitted transaction is never abandoned untracked.
	if ctx.Err() != nil {
		s.logger.Info("shutting down, buy not initiated",
			zap.String("token", cand.TokenMint.String()))
		return
	}
	buyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inFlightGrace)
	defer cancel()

	res, err := s.buyer.Buy(buyCtx, cand.PairedMint, cand.TokenMint, s.cfg.BuyAmountLamports)
	if err != nil {
		s.logger.Error("buy failed",
			zap.String("token", cand.TokenMint.String()),
			zap.Error(err))
		return
	}
	if res.OutAmount == 0 {
		s.logger.Error("buy returned zero tokens, not tracking",
			zap.String("token", cand.TokenMint.String()),
			zap.String("signature", res.Signature))
		return
	}

	entryPrice := float64(res.InAmount) / float64(res.OutAmount)
	if _, err := s.positions.Open(cand.TokenMint, cand.PairedMint, entryPrice, res.OutAmount, res.Signature); err != nil {
		s.logger.Warn("position not tracked",
			zap.String("token", cand.TokenMint.String()),
			zap.Error(err))
	}
}

func (s *Sniper) publishDetected(cand *types.CandidateToken, verdict *screener.Verdict) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(events.TokenDetectedEvent{
		BaseEvent:  events.NewBase(events.TokenDetected),
		Signature:  cand.Signature,
		TokenMint:  cand.TokenMint.String(),
		PairedMint: cand.PairedMint.String(),
		PoolKey:    cand.PoolKey.String(),
		Passed:     verdict.Passed,
		RiskScore:  verdict.Score,
		Reasons:    verdict.Reasons,
	})
}
