package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

// failingStore fails every profile lookup
type failingStore struct {
	profiles.Store
	err error
}

func (f failingStore) GetProfile(ctx context.Context, principalID string) (*profiles.Profile, error) {
	return nil, f.err
}

// slowStore blocks until the lookup context is done
type slowStore struct {
	profiles.Store
}

func (slowStore) GetProfile(ctx context.Context, principalID string) (*profiles.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type bootstrapState struct {
	has bool
	err error
}

func (b bootstrapState) HasSuperAdmin(ctx context.Context) (bool, error) {
	return b.has, b.err
}

func seededStore() *profiles.MemoryStore {
	store := profiles.NewMemoryStore()
	for _, p := range []*profiles.Profile{
		{PrincipalID: "user", Role: rbac.RoleUser, IsActive: true},
		{PrincipalID: "moderator", Role: rbac.RoleModerator, IsActive: true},
		{PrincipalID: "admin", Role: rbac.RoleAdmin, IsActive: true},
		{PrincipalID: "root", Role: rbac.RoleSuperAdmin, IsActive: true},
		{PrincipalID: "disabled-root", Role: rbac.RoleSuperAdmin, IsActive: false},
	} {
		store.Put(p)
	}
	return store
}

func as(id string) context.Context {
	if id == "" {
		return context.Background()
	}
	return auth.WithPrincipal(context.Background(), &auth.Principal{ID: id, Email: id + "@example.com"})
}

func TestAuthorizeForRequest(t *testing.T) {
	g := New(seededStore())

	tests := []struct {
		name     string
		caller   string
		required []rbac.Permission
		outcome  Outcome
		reason   auth.Reason
	}{
		{"anonymous", "", []rbac.Permission{rbac.PermViewUsers}, OutcomeDenied, auth.ReasonUnauthenticated},
		{"anonymous with no requirement", "", nil, OutcomeDenied, auth.ReasonUnauthenticated},
		{"moderator cannot delete users", "moderator", []rbac.Permission{rbac.PermDeleteUsers}, OutcomeDenied, auth.ReasonForbidden},
		{"admin views and creates users", "admin", []rbac.Permission{rbac.PermViewUsers, rbac.PermCreateUsers}, OutcomeAllow, auth.ReasonNone},
		{"admin cannot manage system", "admin", []rbac.Permission{rbac.PermManageSystem}, OutcomeDenied, auth.ReasonForbidden},
		{"super admin manages system", "root", []rbac.Permission{rbac.PermManageSystem}, OutcomeAllow, auth.ReasonNone},
		{"inactive super admin", "disabled-root", []rbac.Permission{rbac.PermViewUsers}, OutcomeDenied, auth.ReasonInactiveAccount},
		{"inactive with no requirement", "disabled-root", nil, OutcomeDenied, auth.ReasonInactiveAccount},
		{"missing profile", "ghost", nil, OutcomeDenied, auth.ReasonForbidden},
		{"user with no requirement", "user", nil, OutcomeAllow, auth.ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.AuthorizeForRequest(as(tt.caller), tt.required...)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.reason, d.Reason)
			if d.Allowed() {
				require.NotNil(t, d.Profile)
				assert.Equal(t, tt.caller, d.Profile.PrincipalID)
			} else {
				assert.Nil(t, d.Profile, "denials carry no profile")
			}
		})
	}
}

func TestAuthorizeForPage(t *testing.T) {
	g := New(seededStore(), WithBootstrap(bootstrapState{has: true}))

	tests := []struct {
		name     string
		caller   string
		path     string
		required []rbac.Permission
		outcome  Outcome
		target   string
	}{
		{"anonymous goes to sign-in with next", "", "/admin/users?page=2", []rbac.Permission{rbac.PermViewUsers}, OutcomeRedirect, "/sign-in?next=%2Fadmin%2Fusers%3Fpage%3D2"},
		{"anonymous on open page", "", "/dashboard", nil, OutcomeRedirect, "/sign-in?next=%2Fdashboard"},
		{"protocol-relative next dropped", "", "//evil.example/x", []rbac.Permission{rbac.PermViewUsers}, OutcomeRedirect, "/sign-in"},
		{"absolute next dropped", "", "https://evil.example/", nil, OutcomeRedirect, "/sign-in"},
		{"moderator to landing", "moderator", "/admin/system", []rbac.Permission{rbac.PermManageSystem}, OutcomeRedirect, "/"},
		{"inactive to landing", "disabled-root", "/admin", []rbac.Permission{rbac.PermViewUsers}, OutcomeRedirect, "/"},
		{"missing profile to landing", "ghost", "/dashboard", nil, OutcomeRedirect, "/"},
		{"admin allowed", "admin", "/admin/users", []rbac.Permission{rbac.PermViewUsers}, OutcomeAllow, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.AuthorizeForPage(as(tt.caller), tt.path, tt.required...)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.target, d.Target)
			assert.Equal(t, d.Outcome == OutcomeAllow, d.Profile != nil)
		})
	}
}

func TestAuthorizeForPage_Bootstrap(t *testing.T) {
	store := seededStore()

	t.Run("privileged page goes to setup", func(t *testing.T) {
		g := New(store, WithBootstrap(bootstrapState{has: false}))
		d := g.AuthorizeForPage(as("root"), "/admin", rbac.PermViewUsers)
		assert.Equal(t, OutcomeRedirect, d.Outcome)
		assert.Equal(t, "/setup", d.Target)
	})

	t.Run("open page is not diverted", func(t *testing.T) {
		g := New(store, WithBootstrap(bootstrapState{has: false}))
		d := g.AuthorizeForPage(as("user"), "/dashboard")
		assert.True(t, d.Allowed())
	})

	t.Run("bootstrap check failure fails closed", func(t *testing.T) {
		g := New(store, WithBootstrap(bootstrapState{err: errors.New("db down")}))
		d := g.AuthorizeForPage(as("root"), "/admin", rbac.PermViewUsers)
		assert.Equal(t, OutcomeRedirect, d.Outcome)
		assert.Equal(t, "/", d.Target)
		assert.Equal(t, auth.ReasonStoreUnavailable, d.Reason)
	})
}

func TestFailClosed(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		g := New(failingStore{err: errors.New("connection refused")})

		api := g.AuthorizeForRequest(as("root"), rbac.PermViewUsers)
		assert.Equal(t, OutcomeDenied, api.Outcome)
		assert.Equal(t, auth.ReasonStoreUnavailable, api.Reason)

		page := g.AuthorizeForPage(as("root"), "/admin", rbac.PermViewUsers)
		assert.Equal(t, OutcomeRedirect, page.Outcome)
		assert.Equal(t, "/", page.Target)
	})

	t.Run("timeout", func(t *testing.T) {
		g := New(slowStore{}, WithStoreTimeout(20*time.Millisecond))

		start := time.Now()
		d := g.AuthorizeForRequest(as("root"))
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, auth.ReasonStoreUnavailable, d.Reason)
	})
}

func TestReevaluatedEveryRequest(t *testing.T) {
	store := seededStore()
	g := New(store)
	ctx := as("admin")

	require.True(t, g.AuthorizeForRequest(ctx, rbac.PermViewUsers).Allowed())

	_, err := store.SetRole(context.Background(), "admin", rbac.RoleUser, "root")
	require.NoError(t, err)
	assert.False(t, g.AuthorizeForRequest(ctx, rbac.PermViewUsers).Allowed())

	_, err = store.SetRole(context.Background(), "admin", rbac.RoleAdmin, "root")
	require.NoError(t, err)
	_, err = store.SetActive(context.Background(), "admin", false, "root")
	require.NoError(t, err)
	assert.Equal(t, auth.ReasonInactiveAccount, g.AuthorizeForRequest(ctx, rbac.PermViewUsers).Reason)
}

func TestDecisionsAreObserved(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	recorder := &recordingAudit{}
	g := New(failingStore{err: errors.New("boom")}, WithMetrics(metrics, nil))

	ctx := audit.WithLogger(as("root"), recorder)
	g.AuthorizeForRequest(ctx, rbac.PermViewUsers)
	g.AuthorizeForPage(ctx, "/admin", rbac.PermViewUsers)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("api", "denied", "store_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("page", "redirect", "store_unavailable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("guard")))

	require.Len(t, recorder.events, 2)
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, recorder.events[0].EventType)
	assert.Equal(t, "store_unavailable", recorder.events[0].Reason)
	assert.Equal(t, "root", recorder.events[0].ActorID)
	assert.Equal(t, audit.EventTypeAuthzRedirect, recorder.events[1].EventType)
	assert.Equal(t, "/admin", recorder.events[1].ResourceID)
	assert.Equal(t, []string{"view_users"}, recorder.events[1].Metadata["required"])
}

func TestUnauthenticatedPagesNeverAllow(t *testing.T) {
	g := New(seededStore())
	for _, perms := range [][]rbac.Permission{nil, {rbac.PermViewUsers}, rbac.AllPermissions()} {
		d := g.AuthorizeForPage(context.Background(), "/x", perms...)
		assert.Equal(t, OutcomeRedirect, d.Outcome)
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := map[string]bool{
		"/":                    true,
		"/admin/users?x=1":     true,
		"/invitations/tgi_abc": true,
		"":                     false,
		"admin":                false,
		"//evil.example":       false,
		"/\\evil.example":      false,
		"https://evil.example": false,
		"javascript:alert(1)":  false,
		"/a\r\nSet-Cookie: x":  false,
	}
	for p, want := range tests {
		assert.Equal(t, want, IsLocalPath(p), p)
	}
}
