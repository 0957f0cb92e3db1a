package profiles

import (
	"context"
	"fmt"
	"io"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Admin performs platform-level profile administration on behalf of an
// already authorized actor.
type Admin struct {
	store  Store
	logger *observability.Logger
}

// NewAdmin creates an Admin over store. A nil logger discards output.
func NewAdmin(store Store, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NewLogger(observability.WarnLevel, io.Discard)
	}
	return &Admin{store: store, logger: logger.WithField("component", "profiles_admin")}
}

// List returns profiles for the admin console
func (a *Admin) List(ctx context.Context, actor *Profile, limit, offset int) ([]*Profile, error) {
	if !actor.Can(rbac.PermViewUsers) {
		return nil, auth.ErrForbidden
	}
	return a.store.ListProfiles(ctx, limit, offset)
}

// ChangeRole assigns role to the target principal. Only super admins may
// grant or revoke super_admin, and nobody may grant a role above their own.
func (a *Admin) ChangeRole(ctx context.Context, actor *Profile, targetID string, role rbac.Role) (*Profile, error) {
	if !actor.Can(rbac.PermManageUserRoles) {
		return nil, auth.ErrForbidden
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	if role.Rank() > actor.Role.Rank() {
		return nil, auth.ErrInsufficientRole
	}

	target, err := a.store.GetProfile(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == rbac.RoleSuperAdmin && actor.Role != rbac.RoleSuperAdmin {
		return nil, auth.ErrInsufficientRole
	}
	if target.Role == role {
		return target, nil
	}

	updated, err := a.store.SetRole(ctx, targetID, role, actor.PrincipalID)
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.EventTypeProfileRoleChange, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeProfile
	event.ResourceID = targetID
	event.Metadata = map[string]interface{}{"from": string(target.Role), "to": string(role)}
	a.record(ctx, event)

	return updated, nil
}

// SetActive activates or deactivates the target principal. Super admin
// targets require a super admin actor and nobody may deactivate themselves.
func (a *Admin) SetActive(ctx context.Context, actor *Profile, targetID string, active bool) (*Profile, error) {
	if !actor.Can(rbac.PermUpdateUsers) {
		return nil, auth.ErrForbidden
	}
	if !active && targetID == actor.PrincipalID {
		return nil, fmt.Errorf("%w: cannot deactivate your own account", auth.ErrForbidden)
	}

	target, err := a.store.GetProfile(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == rbac.RoleSuperAdmin && actor.Role != rbac.RoleSuperAdmin {
		return nil, auth.ErrInsufficientRole
	}
	if target.IsActive == active {
		return target, nil
	}

	updated, err := a.store.SetActive(ctx, targetID, active, actor.PrincipalID)
	if err != nil {
		return nil, err
	}

	eventType := audit.EventTypeProfileDeactivate
	if active {
		eventType = audit.EventTypeProfileActivate
	}
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeProfile
	event.ResourceID = targetID
	a.record(ctx, event)

	return updated, nil
}

func (a *Admin) record(ctx context.Context, event *audit.AuditEvent) {
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		a.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to write audit event")
	}
}
