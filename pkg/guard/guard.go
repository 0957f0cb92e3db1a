package guard

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// DefaultStoreTimeout bounds every profile and bootstrap lookup
const DefaultStoreTimeout = 2 * time.Second

// Outcome is the result kind of an authorization decision
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeRedirect Outcome = "redirect"
	OutcomeDenied   Outcome = "denied"
)

const (
	surfacePage = "page"
	surfaceAPI  = "api"
)

// Paths are the navigation targets used by page decisions. Landing must be
// reachable without any permission.
type Paths struct {
	SignIn  string
	Landing string
	Setup   string
}

// DefaultPaths returns the stock sign-in, landing and setup paths
func DefaultPaths() Paths {
	return Paths{
		SignIn:  "/sign-in",
		Landing: "/",
		Setup:   "/setup",
	}
}

// BootstrapChecker reports whether the platform has an active super admin
type BootstrapChecker interface {
	HasSuperAdmin(ctx context.Context) (bool, error)
}

// PageDecision is the outcome of a page authorization. Target is set for
// redirects and Profile for allows.
type PageDecision struct {
	Outcome Outcome
	Profile *profiles.Profile
	Target  string
	Reason  auth.Reason
}

// Allowed reports whether the page may render
func (d PageDecision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// RequestDecision is the outcome of an API authorization
type RequestDecision struct {
	Outcome Outcome
	Profile *profiles.Profile
	Reason  auth.Reason
}

// Allowed reports whether the request may proceed
func (d RequestDecision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Guard decides whether the principal in a request context may use a page
// or an API. Nothing is cached: every call re-reads the profile.
type Guard struct {
	profiles     profiles.Store
	bootstrap    BootstrapChecker
	paths        Paths
	storeTimeout time.Duration
	metrics      *observability.Metrics
	otel         *observability.OTelMetrics
	logger       *observability.Logger
	tracer       trace.Tracer
}

// Option configures a Guard
type Option func(*Guard)

// WithBootstrap makes page decisions redirect to setup while the platform
// has no super admin
func WithBootstrap(checker BootstrapChecker) Option {
	return func(g *Guard) { g.bootstrap = checker }
}

// WithPaths overrides the navigation targets
func WithPaths(paths Paths) Option {
	return func(g *Guard) { g.paths = paths }
}

// WithStoreTimeout overrides DefaultStoreTimeout
func WithStoreTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.storeTimeout = d
		}
	}
}

// WithMetrics records every decision. Either argument may be nil.
func WithMetrics(metrics *observability.Metrics, otel *observability.OTelMetrics) Option {
	return func(g *Guard) {
		g.metrics = metrics
		g.otel = otel
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTracer sets the tracer used for decision spans
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Guard) { g.tracer = tracer }
}

// New creates a Guard over store
func New(store profiles.Store, opts ...Option) *Guard {
	g := &Guard{
		profiles:     store,
		paths:        DefaultPaths(),
		storeTimeout: DefaultStoreTimeout,
		logger:       observability.NewLogger(observability.WarnLevel, io.Discard),
		tracer:       observability.Tracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.WithField("component", "guard")
	return g
}

// Paths returns the configured navigation targets
func (g *Guard) Paths() Paths {
	return g.paths
}

// AuthorizeForPage decides whether the principal in ctx may view
// requestedPath. Denials become redirects: anonymous callers go to sign-in
// with a return path, everyone else goes to the landing page.
func (g *Guard) AuthorizeForPage(ctx context.Context, requestedPath string, required ...rbac.Permission) PageDecision {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "guard.AuthorizeForPage", trace.WithAttributes(
		attribute.String("tenantgate.path", requestedPath),
	))
	defer span.End()

	var (
		profile *profiles.Profile
		reason  auth.Reason
		err     error
		target  string
	)

	if pending, bErr := g.bootstrapPending(ctx, required); bErr != nil {
		reason, err = auth.ReasonStoreUnavailable, bErr
	} else if pending {
		target = g.paths.Setup
		reason = auth.ReasonForbidden
	} else {
		profile, reason, err = g.decide(ctx, required)
	}

	decision := PageDecision{Outcome: OutcomeAllow, Profile: profile}
	switch {
	case target != "":
		decision = PageDecision{Outcome: OutcomeRedirect, Target: target, Reason: reason}
	case reason == auth.ReasonUnauthenticated:
		decision = PageDecision{Outcome: OutcomeRedirect, Target: g.signInTarget(requestedPath), Reason: reason}
	case reason != auth.ReasonNone:
		decision = PageDecision{Outcome: OutcomeRedirect, Target: g.paths.Landing, Reason: reason}
	}

	g.finish(ctx, span, surfacePage, decision.Outcome, decision.Reason, err, start, requestedPath, required)
	return decision
}

// AuthorizeForRequest decides whether the principal in ctx may call an API
// that requires every permission in required
func (g *Guard) AuthorizeForRequest(ctx context.Context, required ...rbac.Permission) RequestDecision {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "guard.AuthorizeForRequest")
	defer span.End()

	profile, reason, err := g.decide(ctx, required)

	decision := RequestDecision{Outcome: OutcomeAllow, Profile: profile}
	if reason != auth.ReasonNone {
		decision = RequestDecision{Outcome: OutcomeDenied, Reason: reason}
	}

	g.finish(ctx, span, surfaceAPI, decision.Outcome, decision.Reason, err, start, "", required)
	return decision
}

// decide is the shared decision core. A missing profile counts as an
// inactive plain user, so it is forbidden rather than inactive.
func (g *Guard) decide(ctx context.Context, required []rbac.Permission) (*profiles.Profile, auth.Reason, error) {
	principal := auth.PrincipalFromContext(ctx)
	if principal == nil {
		return nil, auth.ReasonUnauthenticated, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	profile, err := g.profiles.GetProfile(lookupCtx, principal.ID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return nil, auth.ReasonForbidden, nil
	case err != nil:
		return nil, auth.ReasonStoreUnavailable, auth.StoreError("get profile", err)
	case profile == nil:
		return nil, auth.ReasonForbidden, nil
	case !profile.IsActive:
		return nil, auth.ReasonInactiveAccount, nil
	case !rbac.HasAll(profile.Role, required...):
		return nil, auth.ReasonForbidden, nil
	}
	return profile, auth.ReasonNone, nil
}

// bootstrapPending reports whether a privileged page must go to setup.
// Pages without required permissions are never diverted.
func (g *Guard) bootstrapPending(ctx context.Context, required []rbac.Permission) (bool, error) {
	if g.bootstrap == nil || len(required) == 0 {
		return false, nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	ok, err := g.bootstrap.HasSuperAdmin(lookupCtx)
	if err != nil {
		return false, auth.StoreError("check bootstrap", err)
	}
	return !ok, nil
}

func (g *Guard) signInTarget(requestedPath string) string {
	if !IsLocalPath(requestedPath) {
		return g.paths.SignIn
	}
	return g.paths.SignIn + "?next=" + url.QueryEscape(requestedPath)
}

// IsLocalPath reports whether p is safe to use as a post-sign-in return
// path: an absolute path on this host with no scheme or authority.
func IsLocalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") || strings.ContainsAny(p, "\r\n") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}

func (g *Guard) finish(ctx context.Context, span trace.Span, surface string, outcome Outcome, reason auth.Reason, err error, start time.Time, path string, required []rbac.Permission) {
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("tenantgate.surface", surface),
		attribute.String("tenantgate.outcome", string(outcome)),
		attribute.String("tenantgate.reason", string(reason)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
	}

	if g.metrics != nil {
		g.metrics.AuthzDecisionsTotal.WithLabelValues(surface, string(outcome), string(reason)).Inc()
		g.metrics.AuthzDecisionDuration.WithLabelValues(surface).Observe(elapsed.Seconds())
		if reason == auth.ReasonStoreUnavailable {
			g.metrics.StoreErrorsTotal.WithLabelValues("guard").Inc()
		}
	}
	g.otel.RecordAuthzDecision(ctx, surface, string(outcome), string(reason), elapsed)

	if outcome == OutcomeAllow {
		return
	}

	if err != nil {
		observability.UpdateLoggerWithTraceContext(ctx, g.logger).
			WithError(err).
			WithField("surface", surface).
			Warn("authorization failed closed")
	}

	eventType := audit.EventTypeAuthzAccessDenied
	resourceType := audit.ResourceTypeAPI
	if surface == surfacePage {
		eventType = audit.EventTypeAuthzRedirect
		resourceType = audit.ResourceTypePage
	}
	event := audit.NewEvent(ctx, eventType, audit.EventStatusDenied)
	event.ResourceType = resourceType
	event.ResourceID = path
	event.Reason = string(reason)
	if len(required) > 0 {
		perms := make([]string, len(required))
		for i, p := range required {
			perms[i] = string(p)
		}
		event.Metadata = map[string]interface{}{"required": perms}
	}
	if logErr := audit.FromContext(ctx).Log(ctx, event); logErr != nil {
		g.logger.WithError(logErr).Warn("failed to write audit event")
	}
}
