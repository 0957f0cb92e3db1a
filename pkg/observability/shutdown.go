package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ShutdownManager drains the HTTP server and then runs registered cleanup
// functions concurrently under a shared deadline.
type ShutdownManager struct {
	logger          *Logger
	server          *http.Server
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = NewLogger(ErrorLevel, io.Discard)
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers a named function to call during shutdown.
// Nil functions are ignored.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// Wait blocks until ctx is done and then shuts down. Pair it with
// signal.NotifyContext.
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	<-ctx.Done()
	sm.logger.Info("shutdown requested")
	return sm.Shutdown()
}

// Shutdown stops the server and runs every registered function
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	if sm.server != nil {
		sm.logger.Info("shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(funcs))
	)
	for i, f := range funcs {
		wg.Add(1)
		go func(i int, f namedShutdownFunc) {
			defer wg.Done()
			defer RecoverPanicWithCallback(sm.logger, "shutdown "+f.name, func() {
				errs[i] = fmt.Errorf("%s: panicked", f.name)
			})
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("component", f.name).Error("shutdown function failed")
				errs[i] = fmt.Errorf("%s: %w", f.name, err)
			}
		}(i, f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached: %w", ctx.Err())
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
