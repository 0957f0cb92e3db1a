package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// DefaultTimeout bounds the super admin count query
const DefaultTimeout = 2 * time.Second

// ErrAlreadyInitialized is returned by Initialize once a super admin exists.
// It wraps auth.ErrAlreadyExists.
var ErrAlreadyInitialized = fmt.Errorf("platform already initialized: %w", auth.ErrAlreadyExists)

// State is the platform lifecycle state
type State string

const (
	StateNeedsBootstrap State = "needs_bootstrap"
	StateOperational    State = "operational"
)

// Bootstrap attempt results, used as metric labels
const (
	resultCreated            = "created"
	resultAlreadyInitialized = "already_initialized"
	resultInvalid            = "invalid_input"
	resultError              = "error"
)

// Request carries the first super admin's account details
type Request struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Result is the account created by a successful Initialize
type Result struct {
	Principal *auth.Principal   `json:"principal"`
	Profile   *profiles.Profile `json:"profile"`
}

// Coordinator owns the transition from an empty platform to one with a
// super admin. The state is always read from the profile store.
type Coordinator struct {
	profiles  profiles.Store
	registrar auth.Registrar
	timeout   time.Duration
	metrics   *observability.Metrics
	otel      *observability.OTelMetrics
	logger    *observability.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records initialization attempts. Either argument may be nil.
func WithMetrics(metrics *observability.Metrics, otel *observability.OTelMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
		c.otel = otel
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a Coordinator
func NewCoordinator(store profiles.Store, registrar auth.Registrar, opts ...Option) *Coordinator {
	c := &Coordinator{
		profiles:  store,
		registrar: registrar,
		timeout:   DefaultTimeout,
		logger:    observability.NewLogger(observability.WarnLevel, io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "bootstrap")
	return c
}

// HasSuperAdmin reports whether at least one active super admin exists
func (c *Coordinator) HasSuperAdmin(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.profiles.CountSuperAdmins(ctx)
	if err != nil {
		return false, auth.StoreError("count super admins", err)
	}
	return n > 0, nil
}

// State returns the current lifecycle state
func (c *Coordinator) State(ctx context.Context) (State, error) {
	ok, err := c.HasSuperAdmin(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return StateOperational, nil
	}
	return StateNeedsBootstrap, nil
}

// Initialize creates the first super admin. Concurrent callers race on
// CreateFirstSuperAdmin; exactly one wins and every other caller gets
// ErrAlreadyInitialized after its freshly registered principal is removed.
func (c *Coordinator) Initialize(ctx context.Context, req Request) (*Result, error) {
	ok, err := c.HasSuperAdmin(ctx)
	if err != nil {
		c.observe(ctx, resultError)
		return nil, err
	}
	if ok {
		c.reject(ctx, "platform already has a super admin")
		return nil, ErrAlreadyInitialized
	}

	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)

	principal, err := c.registrar.Register(ctx, auth.Registration{Email: req.Email, Password: req.Password})
	if err != nil {
		// A duplicate email usually means the same setup form was submitted
		// twice and the other submission is still creating the super admin.
		if errors.Is(err, auth.ErrAlreadyExists) && c.awaitInitialized(ctx) {
			c.reject(ctx, "setup already submitted for this email")
			return nil, ErrAlreadyInitialized
		}
		if errors.Is(err, auth.ErrInvalidInput) || errors.Is(err, auth.ErrAlreadyExists) {
			c.observe(ctx, resultInvalid)
		} else {
			c.observe(ctx, resultError)
		}
		return nil, err
	}

	profile, err := c.profiles.CreateFirstSuperAdmin(ctx, &profiles.Profile{
		PrincipalID: principal.ID,
		Role:        rbac.RoleSuperAdmin,
		IsActive:    true,
		FirstName:   firstName,
		LastName:    lastName,
		DisplayName: displayName(firstName, lastName, principal.Email),
	})
	if err != nil {
		c.compensate(ctx, principal.ID)
		if errors.Is(err, auth.ErrAlreadyExists) {
			c.reject(ctx, "lost the race to create the first super admin")
			return nil, ErrAlreadyInitialized
		}
		c.observe(ctx, resultError)
		return nil, err
	}

	c.observe(ctx, resultCreated)
	c.logger.WithField("principal_id", principal.ID).Info("platform initialized")

	event := audit.NewEvent(ctx, audit.EventTypeBootstrapCompleted, audit.EventStatusSuccess)
	event.ActorID = principal.ID
	event.ResourceType = audit.ResourceTypeProfile
	event.ResourceID = principal.ID
	event.Message = "first super admin created"
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		c.logger.WithError(err).Warn("failed to write audit event")
	}

	return &Result{Principal: principal, Profile: profile}, nil
}

// awaitInitialized polls HasSuperAdmin until it reports true or the
// coordinator timeout elapses.
func (c *Coordinator) awaitInitialized(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wait := 10 * time.Millisecond
	for {
		if ok, err := c.HasSuperAdmin(ctx); err == nil && ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

// compensate removes a principal registered by a failed Initialize. It runs
// even when ctx is already cancelled.
func (c *Coordinator) compensate(ctx context.Context, principalID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.registrar.Delete(ctx, principalID); err != nil {
		c.logger.WithError(err).WithField("principal_id", principalID).
			Error("failed to remove principal after aborted initialization")
	}
}

func (c *Coordinator) reject(ctx context.Context, message string) {
	c.observe(ctx, resultAlreadyInitialized)

	event := audit.NewEvent(ctx, audit.EventTypeBootstrapRejected, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypeSystem
	event.Reason = resultAlreadyInitialized
	event.Message = message
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		c.logger.WithError(err).Warn("failed to write audit event")
	}
}

func (c *Coordinator) observe(ctx context.Context, result string) {
	if c.metrics != nil {
		c.metrics.BootstrapAttemptsTotal.WithLabelValues(result).Inc()
		if result == resultError {
			c.metrics.StoreErrorsTotal.WithLabelValues("bootstrap").Inc()
		}
	}
	c.otel.RecordBootstrapAttempt(ctx, result)
}

func displayName(first, last, email string) string {
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	return email
}
