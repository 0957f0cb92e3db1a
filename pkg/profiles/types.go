package profiles

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Profile is the application-owned record attached to a principal
type Profile struct {
	PrincipalID string    `json:"principal_id"`
	Role        rbac.Role `json:"role"`
	IsActive    bool      `json:"is_active"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   *string   `json:"updated_by,omitempty"`
}

// Can reports whether the profile is active and its role grants every
// permission in required.
func (p *Profile) Can(required ...rbac.Permission) bool {
	return p != nil && p.IsActive && rbac.HasAll(p.Role, required...)
}

// Store persists profiles. Implementations must make CreateFirstSuperAdmin,
// SetRole and SetActive atomic with respect to the super admin count.
type Store interface {
	// GetProfile returns auth.ErrNotFound when no profile exists
	GetProfile(ctx context.Context, principalID string) (*Profile, error)
	UpsertProfile(ctx context.Context, profile *Profile) (*Profile, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error)
	// CountSuperAdmins counts active super admins
	CountSuperAdmins(ctx context.Context) (int, error)
	// CreateFirstSuperAdmin creates profile as an active super admin only if
	// no active super admin exists, otherwise auth.ErrAlreadyExists.
	CreateFirstSuperAdmin(ctx context.Context, profile *Profile) (*Profile, error)
	SetRole(ctx context.Context, principalID string, role rbac.Role, actorID string) (*Profile, error)
	SetActive(ctx context.Context, principalID string, active bool, actorID string) (*Profile, error)
}

// WithProfile stores the caller's profile in the context
func WithProfile(ctx context.Context, p *Profile) context.Context {
	return contextkeys.WithProfile(ctx, p)
}

// FromContext returns the profile stored by the guard, or nil
func FromContext(ctx context.Context) *Profile {
	p, _ := ctx.Value(contextkeys.ProfileKey).(*Profile)
	return p
}
