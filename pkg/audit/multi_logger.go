package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger logs to multiple audit loggers simultaneously
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   true,
		errChan: make(chan error, 16),
	}
}

// SetAsync sets whether logging should be asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}

	if m.async {
		m.logAsync(ctx, event)
		return nil
	}

	return m.logSync(ctx, event)
}

func (m *MultiLogger) logSync(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logAsync detaches from the request's cancellation so events recorded at
// the end of a request still reach slow sinks.
func (m *MultiLogger) logAsync(ctx context.Context, event *AuditEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				select {
				case m.errChan <- err:
				default:
				}
			}
		}(logger)
	}
}

// Wait waits for all async logging operations to complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// GetErrors drains errors collected during async logging
func (m *MultiLogger) GetErrors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
