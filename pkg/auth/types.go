package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// Principal is an authenticated identity supplied by the identity provider.
// The ID is stable and opaque.
type Principal struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastSignInAt  *time.Time `json:"last_sign_in_at,omitempty"`
}

// Registration holds the fields needed to create a principal locally
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// WithPrincipal stores p in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	if p != nil {
		ctx = contextkeys.WithUserID(ctx, p.ID)
	}
	return ctx
}

// PrincipalFromContext returns the principal resolved for this request, or
// nil for anonymous callers.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p
}
