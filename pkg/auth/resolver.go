package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Resolver turns an incoming request into the calling principal.
// It returns (nil, nil) for anonymous requests; an error means the identity
// provider could not be consulted.
type Resolver interface {
	Resolve(r *http.Request) (*Principal, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(r *http.Request) (*Principal, error)

// Resolve calls f(r)
func (f ResolverFunc) Resolve(r *http.Request) (*Principal, error) {
	return f(r)
}

// ChainResolver tries each resolver in order and returns the first principal
type ChainResolver []Resolver

// Resolve implements Resolver
func (c ChainResolver) Resolve(r *http.Request) (*Principal, error) {
	var errs []error
	for _, res := range c {
		p, err := res.Resolve(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, errors.Join(errs...)
}

// Middleware resolves the principal once per request and stores it in the
// request context. A resolver failure is logged and the request proceeds
// anonymously, so downstream guards deny it.
func Middleware(resolver Resolver, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.Resolve(r)
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Warn("principal resolution failed")
				principal = nil
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
