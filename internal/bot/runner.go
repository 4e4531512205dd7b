// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sniperlabs/solsniper/internal/config"
	"github.com/sniperlabs/solsniper/internal/eventlistener"
	"github.com/sniperlabs/solsniper/internal/events"
	"github.com/sniperlabs/solsniper/internal/export"
	"github.com/sniperlabs/solsniper/internal/pipeline"
	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/screener"
	"github.com/sniperlabs/solsniper/internal/sniping"
	"github.com/sniperlabs/solsniper/internal/swap"
	"github.com/sniperlabs/solsniper/internal/tracker"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
	"github.com/sniperlabs/solsniper/internal/wallet"
)

const busBufferSize = 256

// Runner assembles the whole pipeline from configuration and drives it
// until shutdown.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	bus        *events.Bus
	queue      *pipeline.Queue
	dedup      *pipeline.Deduplicator
	supervisor *eventlistener.Supervisor
	sniper     *sniping.Sniper
	tracker    *tracker.Tracker
	metricsSrv *http.Server
	shutdown   *ShutdownHandler
}

// NewRunner wires every component from the validated configuration. No
// network traffic happens until Run.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	w, err := wallet.New(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	logger.Info("wallet loaded", zap.String("pubkey", w.String()))

	registry := prometheus.NewRegistry()
	mc := metrics.NewCollector(registry)

	bus := events.NewBus(logger, busBufferSize)
	limiter := ratelimit.New(map[string]ratelimit.Window{
		ratelimit.ResourceSubscription: {Ceiling: cfg.Rates.Subscription.Ceiling, Length: cfg.Rates.Subscription.Window()},
		ratelimit.ResourceQuote:        {Ceiling: cfg.Rates.Quote.Ceiling, Length: cfg.Rates.Quote.Window()},
		ratelimit.ResourceSafety:       {Ceiling: cfg.Rates.Safety.Ceiling, Length: cfg.Rates.Safety.Window()},
	}, logger, ratelimit.WithMetrics(mc))

	queue := pipeline.NewQueue(cfg.Executor.QueueCapacity, logger)
	dedup := pipeline.NewDeduplicator(cfg.Dedup.Retention(), logger)
	validator := pipeline.NewValidator(cfg.Safety.SpamSignatures)

	supervisor := eventlistener.New(eventlistener.Config{
		WSURL:       cfg.WebSocketURL,
		ProgramID:   cfg.ProgramID,
		Commitment:  cfg.Commitment,
		BackoffBase: cfg.Reconnect.BackoffBase(),
		BackoffCap:  cfg.Reconnect.BackoffCap(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Cooldown:    cfg.Reconnect.Cooldown(),
	}, eventlistener.Deps{
		Limiter:   limiter,
		Validator: validator,
		Dedup:     dedup,
		Queue:     queue,
		Bus:       bus,
		Metrics:   mc,
		Logger:    logger,
	})

	rpcClient := rpc.New(cfg.RPCURL)
	aggregator := swap.NewClient(cfg.AggregatorURL, rpcClient, w, logger)
	executor := swap.NewExecutor(aggregator, limiter, mc, bus, logger, swap.Config{
		SlippageBps:         cfg.Trade.SlippageBps,
		PriorityFeeLamports: cfg.Trade.PriorityFeeLamports,
		NotTradableRetries:  cfg.Trade.NotTradableRetries,
		NotTradableDelay:    cfg.Trade.NotTradableDelay(),
	})
	prices := swap.NewPriceSource(aggregator, limiter, cfg.Trade.SlippageBps)

	trk := tracker.New(prices, executor, bus, mc, logger, tracker.Config{
		StopLossPercent:   cfg.Trade.StopLossPercent,
		TakeProfitPercent: cfg.Trade.TakeProfitPercent,
		PollInterval:      cfg.Trade.PollInterval(),
	})

	scr := screener.New(screener.Policy{
		AllowMintAuthority:   cfg.Safety.AllowMintAuthority,
		AllowFreezeAuthority: cfg.Safety.AllowFreezeAuthority,
		MinLiquiditySol:      cfg.Safety.MinLiquiditySol,
		MaxHolderPercent:     cfg.Safety.MaxHolderPercent,
		MaxRiskScore:         cfg.Safety.MaxRiskScore,
		NameBlocklist:        cfg.Safety.NameBlocklist,
		SymbolBlocklist:      cfg.Safety.SymbolBlocklist,
	}, screener.NewHTTPProvider(cfg.SafetyAPIURL, logger), limiter, mc, logger)

	snp := sniping.New(queue, scr, executor, trk, bus, mc, logger, sniping.Config{
		MaxConcurrent:     int64(cfg.Executor.MaxConcurrent),
		BatchSize:         cfg.Executor.BatchSize,
		TransactionDelay:  cfg.Executor.TransactionDelay(),
		BuyAmountLamports: cfg.Trade.AmountLamports(),
	})

	r := &Runner{
		cfg:        cfg,
		logger:     logger.Named("runner"),
		bus:        bus,
		queue:      queue,
		dedup:      dedup,
		supervisor: supervisor,
		sniper:     snp,
		tracker:    trk,
		shutdown:   NewShutdownHandler(logger, 15*time.Second),
	}
	if cfg.JournalFile != "" {
		journal, err := export.NewJournal(cfg.JournalFile, bus, logger)
		if err != nil {
			return nil, fmt.Errorf("open trade journal: %w", err)
		}
		r.shutdown.Add("trade journal", journal)
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		r.metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}
	return r, nil
}

// Bus exposes the event bus so callers can attach observers before Run.
func (r *Runner) Bus() *events.Bus {
	return r.bus
}

// Run drives every component until ctx is cancelled or the stream
// supervisor gives up. Trading loops keep running while the connection
// reconnects; only reconnect exhaustion takes the process down.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.supervisor.Run(gctx)
		if errors.Is(err, eventlistener.ErrReconnectExhausted) {
			r.logger.Error("event stream unrecoverable, shutting down")
			return err
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := r.sniper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := r.tracker.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		r.dedup.Run(gctx)
		return nil
	})

	if r.metricsSrv != nil {
		g.Go(func() error {
			r.logger.Info("metrics endpoint listening", zap.String("addr", r.metricsSrv.Addr))
			if err := r.metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return r.metricsSrv.Shutdown(shutdownCtx)
		})
	}

	r.shutdown.AddFunc("event bus", func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.bus.Shutdown(closeCtx)
	})

	err := g.Wait()
	r.shutdown.Close()
	return err
}
