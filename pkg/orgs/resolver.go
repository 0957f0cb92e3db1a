package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// DefaultResolveTimeout bounds a single membership resolution
const DefaultResolveTimeout = 3 * time.Second

// Resolver determines which organization a request acts on and the
// caller's membership in it.
type Resolver struct {
	store   Store
	timeout time.Duration
}

// NewResolver creates a Resolver. A zero timeout uses DefaultResolveTimeout.
func NewResolver(store Store, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Resolver{store: store, timeout: timeout}
}

// ResolveMembership resolves userID's active membership.
//
// With an explicit orgRef (organization ID or slug) the organization must
// exist, otherwise auth.ErrNotFound. A caller who is not an active member
// gets a nil Resolution and a nil error. With an empty orgRef the earliest
// joined active membership is used, or nil when the user has none.
func (r *Resolver) ResolveMembership(ctx context.Context, userID, orgRef string) (*Resolution, error) {
	if userID == "" {
		return nil, auth.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if orgRef == "" {
		memberships, err := r.store.ListMemberships(ctx, userID)
		if err != nil {
			return nil, auth.StoreError("resolve membership", err)
		}
		if len(memberships) == 0 {
			return nil, nil
		}
		return memberships[0], nil
	}

	org, err := r.lookup(ctx, orgRef)
	if err != nil {
		return nil, err
	}

	m, err := r.store.GetMembership(ctx, org.ID, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.StoreError("resolve membership", err)
	}
	if !m.IsActive {
		return nil, nil
	}
	return &Resolution{Organization: org, Membership: m}, nil
}

// lookup finds an organization by ID when ref parses as a UUID and by slug
// otherwise.
func (r *Resolver) lookup(ctx context.Context, ref string) (*Organization, error) {
	var (
		org *Organization
		err error
	)
	if _, parseErr := uuid.Parse(ref); parseErr == nil {
		org, err = r.store.GetOrganization(ctx, ref)
	} else {
		org, err = r.store.GetOrganizationBySlug(ctx, ref)
	}
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("organization %q: %w", ref, auth.ErrNotFound)
	}
	if err != nil {
		return nil, auth.StoreError("resolve organization", err)
	}
	return org, nil
}

// Require resolves the membership and checks it against the operation
// policy. A missing membership is auth.ErrForbidden.
func (r *Resolver) Require(ctx context.Context, userID, orgRef string, op Operation) (*Resolution, error) {
	res, err := r.ResolveMembership(ctx, userID, orgRef)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Membership.Can(op) {
		return nil, fmt.Errorf("%w: %s requires one of %v", auth.ErrForbidden, op, AllowedRoles(op))
	}
	return res, nil
}
