// internal/bot/shutdown.go
package bot

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc adapts a function to io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// ShutdownHandler closes registered services in reverse registration
// order, bounding the whole teardown by a single timeout.
type ShutdownHandler struct {
	mu       sync.Mutex
	logger   *zap.Logger
	services []namedService
	timeout  time.Duration
}

type namedService struct {
	name   string
	closer io.Closer
}

// NewShutdownHandler creates a handler with the given overall timeout.
func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a service. Services close LIFO so dependents go first.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.services = append(sh.services, namedService{name: name, closer: closer})
}

// AddFunc registers a close function under a name.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Close tears down every registered service. A service that hangs past
// the deadline is abandoned, not waited on.
func (sh *ShutdownHandler) Close() {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	deadline := time.NewTimer(sh.timeout)
	defer deadline.Stop()

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		done := make(chan error, 1)
		go func() { done <- svc.closer.Close() }()

		select {
		case err := <-done:
			if err != nil {
				sh.logger.Error("service close failed",
					zap.String("service", svc.name),
					zap.Error(err))
				continue
			}
			sh.logger.Info("service closed", zap.String("service", svc.name))
		case <-deadline.C:
			sh.logger.Error("shutdown deadline exceeded",
				zap.String("service", svc.name))
			return
		}
	}
}
