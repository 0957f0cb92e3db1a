package profiles

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const (
	// DefaultProvisionCacheSize bounds the set of principals known to have a profile
	DefaultProvisionCacheSize = 10000
	// DefaultProvisionCacheTTL is how long a principal stays in that set
	DefaultProvisionCacheTTL = 10 * time.Minute
)

// Provisioner gives every signed-in principal a profile. A principal seen
// for the first time gets an active profile with the user role; existing
// profiles are never modified.
//
// The cache only records that a profile row exists. Role and active flag
// are still read by the guard on every request.
type Provisioner struct {
	store   Store
	known   *lru.LRU[string, struct{}]
	timeout time.Duration
	logger  *observability.Logger
}

// ProvisionOption configures a Provisioner
type ProvisionOption func(*provisionConfig)

type provisionConfig struct {
	size    int
	ttl     time.Duration
	timeout time.Duration
	logger  *observability.Logger
}

// WithProvisionCache sets the size and TTL of the known-principal cache
func WithProvisionCache(size int, ttl time.Duration) ProvisionOption {
	return func(c *provisionConfig) {
		if size > 0 {
			c.size = size
		}
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithProvisionTimeout bounds each store call
func WithProvisionTimeout(d time.Duration) ProvisionOption {
	return func(c *provisionConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProvisionLogger sets the logger
func WithProvisionLogger(logger *observability.Logger) ProvisionOption {
	return func(c *provisionConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewProvisioner creates a Provisioner over store
func NewProvisioner(store Store, opts ...ProvisionOption) *Provisioner {
	cfg := provisionConfig{
		size:    DefaultProvisionCacheSize,
		ttl:     DefaultProvisionCacheTTL,
		timeout: 2 * time.Second,
		logger:  observability.NewLogger(observability.WarnLevel, io.Discard),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provisioner{
		store:   store,
		known:   lru.NewLRU[string, struct{}](cfg.size, nil, cfg.ttl),
		timeout: cfg.timeout,
		logger:  cfg.logger.WithField("component", "provisioner"),
	}
}

// Ensure creates the default profile for principal when none exists. It
// returns true when a profile was created.
func (p *Provisioner) Ensure(ctx context.Context, principal *auth.Principal) (bool, error) {
	if principal == nil || principal.ID == "" {
		return false, nil
	}
	if p.known.Contains(principal.ID) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.store.GetProfile(ctx, principal.ID)
	switch {
	case err == nil:
		p.known.Add(principal.ID, struct{}{})
		return false, nil
	case !errors.Is(err, auth.ErrNotFound):
		return false, err
	}

	// Concurrent first requests may both get here; the upsert keeps role
	// and active flag of a row created in between.
	created, err := p.store.UpsertProfile(ctx, &Profile{
		PrincipalID: principal.ID,
		DisplayName: principal.Email,
	})
	if err != nil {
		return false, err
	}
	p.known.Add(principal.ID, struct{}{})

	p.logger.WithField("principal_id", principal.ID).Info("profile provisioned")

	event := audit.NewEvent(ctx, audit.EventTypeProfileCreate, audit.EventStatusSuccess)
	event.ActorID = principal.ID
	event.ResourceType = audit.ResourceTypeProfile
	event.ResourceID = principal.ID
	event.Metadata = map[string]interface{}{"role": string(created.Role)}
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		p.logger.WithError(err).Warn("failed to write audit event")
	}
	return true, nil
}

// Middleware provisions the principal stored by auth.Middleware. A store
// failure is logged and the request continues; the guard then denies it.
func (p *Provisioner) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := p.Ensure(r.Context(), auth.PrincipalFromContext(r.Context())); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("profile provisioning failed")
		}
		next.ServeHTTP(w, r)
	})
}
