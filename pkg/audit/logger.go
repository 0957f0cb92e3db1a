package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// RequestInfo is request metadata captured by Middleware
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOp()
}

// NewEvent builds an event stamped with the current time and any request
// metadata found in ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		ActorID:   contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if info, ok := ctx.Value(contextkeys.AuditRequestKey).(*RequestInfo); ok && info != nil {
		event.IPAddress = info.IPAddress
		event.UserAgent = info.UserAgent
		event.Method = info.Method
		event.Path = info.Path
	}
	return event
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

// NoOp returns a logger that discards every event
func NoOp() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}
