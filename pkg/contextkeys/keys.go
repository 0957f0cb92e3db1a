// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantgate/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: auth.Middleware (pkg/auth/resolver.go)
	// Required by: guard, bootstrap setup handler, invitation redemption
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// ProfileKey contains *profiles.Profile
	// Set by: guard.Guard middlewares after an Allow decision
	// Used by: handlers that need the caller's platform role
	// Type: *profiles.Profile
	ProfileKey Key = "profile"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the principal ID string
	// Set by: auth.Middleware once a principal is resolved
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: Handlers that record audit events
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// AuditRequestKey contains *audit.RequestInfo
	// Set by: audit.Middleware
	// Used by: audit loggers to stamp client address and request line
	// Type: *audit.RequestInfo
	AuditRequestKey Key = "audit_request"
)

// Helper functions for type-safe context operations

// WithPrincipal adds the resolved principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithProfile adds the caller's profile to the context
func WithProfile(ctx context.Context, profile interface{}) context.Context {
	return context.WithValue(ctx, ProfileKey, profile)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// WithAuditRequest adds audit request metadata to the context
func WithAuditRequest(ctx context.Context, info interface{}) context.Context {
	return context.WithValue(ctx, AuditRequestKey, info)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
