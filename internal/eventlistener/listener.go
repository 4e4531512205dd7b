// internal/eventlistener/listener.go
package eventlistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/sniperlabs/solsniper/internal/events"
	"github.com/sniperlabs/solsniper/internal/pipeline"
	"github.com/sniperlabs/solsniper/internal/ratelimit"
	"github.com/sniperlabs/solsniper/internal/utils/metrics"
)

const (
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// ErrReconnectExhausted is returned by Run after the configured number
// of consecutive failed connection attempts. It is the only fatal
// condition in the pipeline.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Config shapes the supervisor's connection behavior.
type Config struct {
	WSURL       string
	ProgramID   string
	Commitment  string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	DialTimeout time.Duration
}

// Deps are the collaborators the supervisor feeds.
type Deps struct {
	Limiter   *ratelimit.Limiter
	Validator *pipeline.Validator
	Dedup     *pipeline.Deduplicator
	Queue     *pipeline.Queue
	Bus       *events.Bus
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Supervisor owns the streaming connection lifecycle: connect,
// subscribe, read, and reconnect with exponential backoff. Failures
// become state transitions, never panics across the boundary.
type Supervisor struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu          sync.Mutex
	state       ConnectionState
	lastAttempt time.Time
}

// New creates a supervisor. It does not connect until Run.
func New(cfg Config, deps Deps) *Supervisor {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Supervisor{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.Named("listener"),
		state: StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run maintains the subscription until the context is cancelled or the
// reconnect budget is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.respectCooldown(ctx); err != nil {
			return err
		}

		s.setState(StateConnecting, attempt, "")
		s.mu.Lock()
		s.lastAttempt = time.Now()
		s.mu.Unlock()

		subscribed, err := s.connectAndListen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(StateDisconnected, attempt, errDetail(err))

		if subscribed {
			// A session that made it to SUBSCRIBED resets the
			// consecutive-failure count.
			attempt = 0
		}
		attempt++
		s.deps.Metrics.Reconnects.Inc()

		if attempt >= s.cfg.MaxAttempts {
			s.log.Error("reconnect budget exhausted, halting",
				zap.Int("attempts", attempt),
				zap.Error(err))
			s.setState(StateDisconnected, attempt, "fatal: reconnect exhausted")
			return ErrReconnectExhausted
		}

		delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)
		s.log.Warn("connection lost, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		s.setState(StateCoolingDown, attempt, "")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// respectCooldown enforces the floor between consecutive connect
// attempts so a flapping endpoint cannot induce connection thrashing.
func (s *Supervisor) respectCooldown(ctx context.Context) error {
	s.mu.Lock()
	elapsed := time.Since(s.lastAttempt)
	s.mu.Unlock()

	if s.cfg.Cooldown <= 0 || elapsed >= s.cfg.Cooldown {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Cooldown - elapsed):
		return nil
	}
}

func (s *Supervisor) connectAndListen(ctx context.Context) (subscribed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, _, _, err := ws.Dial(dialCtx, s.cfg.WSURL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Subscription churn counts against its own rate window.
	if !s.deps.Limiter.Acquire(ctx.Done(), ratelimit.ResourceSubscription) {
		return false, ctx.Err()
	}

	payload, err := json.Marshal(subscribeRequest(s.cfg.ProgramID, s.cfg.Commitment))
	if err != nil {
		return false, fmt.Errorf("marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wsutil.WriteClientText(conn, payload); err != nil {
		return false, fmt.Errorf("write subscribe: %w", err)
	}

	s.setState(StateSubscribed, 0, "")
	s.log.Info("subscribed to program logs",
		zap.String("program", s.cfg.ProgramID),
		zap.String("commitment", s.cfg.Commitment))

	// Unblock the read loop when the context dies.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-sessionDone:
		}
	}()

	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if op != ws.OpText {
			continue
		}
		s.handleMessage(data)
	}
}

// handleMessage routes one inbound frame. Malformed or irrelevant
// frames are dropped silently; only data-bearing notifications reach
// the queue.
func (s *Supervisor) handleMessage(data []byte) {
	s.deps.Metrics.EventsReceived.Inc()

	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.deps.Metrics.EventsDropped.WithLabelValues("malformed").Inc()
		s.log.Debug("undecodable frame dropped", zap.Error(err))
		return
	}

	if msg.Method == "" {
		// Subscription ack or server-side error object.
		if msg.Error != nil {
			s.log.Warn("control error message",
				zap.Int("code", msg.Error.Code),
				zap.String("message", msg.Error.Message))
		}
		return
	}
	if msg.Method != "logsNotification" {
		return
	}

	value, err := decodeNotification(msg.Params)
	if err != nil {
		s.deps.Metrics.EventsDropped.WithLabelValues("malformed").Inc()
		s.log.Debug("malformed notification dropped", zap.Error(err))
		return
	}
	if value.Err != nil {
		// Failed transaction, nothing to snipe.
		return
	}

	sig := value.Signature
	if !s.deps.Validator.Validate(sig) {
		s.deps.Metrics.EventsDropped.WithLabelValues("invalid_signature").Inc()
		s.log.Debug("invalid signature dropped", zap.String("signature", sig))
		return
	}
	if s.deps.Dedup.Seen(sig) {
		s.deps.Metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return
	}
	s.deps.Dedup.Remember(sig)

	s.deps.Queue.Push(&pipeline.Event{
		ID:         sig,
		ReceivedAt: time.Now(),
		Logs:       value.Logs,
		Raw:        msg.Params,
	})
	s.deps.Metrics.QueueDepth.Set(float64(s.deps.Queue.Len()))
}

func (s *Supervisor) setState(state ConnectionState, attempt int, detail string) {
	s.mu.Lock()
	if s.state == state {
		// Duplicate transitions (e.g. repeated opens) are no-ops.
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.deps.Metrics.SetConnectionState(state.String())
	if s.deps.Bus != nil {
		_ = s.deps.Bus.Publish(events.ConnectionStatusEvent{
			BaseEvent: events.NewBase(events.ConnectionStatus),
			State:     state.String(),
			Attempt:   attempt,
			Detail:    detail,
		})
	}
}

// backoffDelay computes base * 2^(attempt-1) capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
