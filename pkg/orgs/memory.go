package orgs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// MemoryStore implements Store in memory. Every operation holds a single
// mutex, which gives it the atomicity the Postgres store gets from row locks.
type MemoryStore struct {
	mu          sync.Mutex
	orgs        map[string]*Organization
	slugs       map[string]string
	members     map[string]map[string]*Membership // org ID -> user ID -> membership
	invitations map[string]*Invitation
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[string]*Organization),
		slugs:       make(map[string]string),
		members:     make(map[string]map[string]*Membership),
		invitations: make(map[string]*Invitation),
		now:         time.Now,
	}
}

func cloneOrg(o *Organization) *Organization {
	cp := *o
	return &cp
}

func cloneMembership(m *Membership) *Membership {
	cp := *m
	if m.InvitedBy != nil {
		s := *m.InvitedBy
		cp.InvitedBy = &s
	}
	return &cp
}

func cloneInvitation(i *Invitation) *Invitation {
	cp := *i
	if i.AcceptedAt != nil {
		t := *i.AcceptedAt
		cp.AcceptedAt = &t
	}
	if i.AcceptedBy != nil {
		s := *i.AcceptedBy
		cp.AcceptedBy = &s
	}
	if i.RevokedAt != nil {
		t := *i.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

func (s *MemoryStore) lock(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return auth.StoreError(op, err)
	}
	s.mu.Lock()
	return nil
}

// CreateOrganization implements Store
func (s *MemoryStore) CreateOrganization(ctx context.Context, org *Organization, ownerID string) (*Organization, *Membership, error) {
	if err := s.lock(ctx, "create organization"); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	if _, taken := s.slugs[org.Slug]; taken {
		return nil, nil, fmt.Errorf("organization slug %q: %w", org.Slug, auth.ErrAlreadyExists)
	}

	now := s.now()
	created := cloneOrg(org)
	created.ID = uuid.New().String()
	created.CreatedBy = ownerID
	created.CreatedAt = now
	created.UpdatedAt = now
	s.orgs[created.ID] = created
	s.slugs[created.Slug] = created.ID

	owner := &Membership{
		ID:             uuid.New().String(),
		OrganizationID: created.ID,
		UserID:         ownerID,
		Role:           RoleOwner,
		IsActive:       true,
		JoinedAt:       now,
		UpdatedAt:      now,
	}
	s.members[created.ID] = map[string]*Membership{ownerID: owner}

	return cloneOrg(created), cloneMembership(owner), nil
}

// GetOrganization implements Store
func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	if err := s.lock(ctx, "get organization"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, auth.ErrNotFound)
	}
	return cloneOrg(org), nil
}

// GetOrganizationBySlug implements Store
func (s *MemoryStore) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	if err := s.lock(ctx, "get organization by slug"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	id, ok := s.slugs[slug]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", slug, auth.ErrNotFound)
	}
	return cloneOrg(s.orgs[id]), nil
}

// UpdateOrganization implements Store
func (s *MemoryStore) UpdateOrganization(ctx context.Context, org *Organization) (*Organization, error) {
	if err := s.lock(ctx, "update organization"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	current, ok := s.orgs[org.ID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", org.ID, auth.ErrNotFound)
	}
	current.Name = org.Name
	current.Description = org.Description
	current.MaxMembers = org.MaxMembers
	current.UpdatedAt = s.now()
	return cloneOrg(current), nil
}

// DeleteOrganization implements Store
func (s *MemoryStore) DeleteOrganization(ctx context.Context, id string) error {
	if err := s.lock(ctx, "delete organization"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return fmt.Errorf("organization %s: %w", id, auth.ErrNotFound)
	}
	delete(s.slugs, org.Slug)
	delete(s.orgs, id)
	delete(s.members, id)
	for hash, inv := range s.invitations {
		if inv.OrganizationID == id {
			delete(s.invitations, hash)
		}
	}
	return nil
}

// GetMembership implements Store
func (s *MemoryStore) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	if err := s.lock(ctx, "get membership"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	m, ok := s.members[orgID][userID]
	if !ok {
		return nil, fmt.Errorf("membership: %w", auth.ErrNotFound)
	}
	return cloneMembership(m), nil
}

// ListMemberships implements Store
func (s *MemoryStore) ListMemberships(ctx context.Context, userID string) ([]*Resolution, error) {
	if err := s.lock(ctx, "list memberships"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []*Resolution
	for orgID, byUser := range s.members {
		m, ok := byUser[userID]
		if !ok || !m.IsActive {
			continue
		}
		out = append(out, &Resolution{
			Organization: cloneOrg(s.orgs[orgID]),
			Membership:   cloneMembership(m),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Membership, out[j].Membership
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// ListMembers implements Store
func (s *MemoryStore) ListMembers(ctx context.Context, orgID string) ([]*Membership, error) {
	if err := s.lock(ctx, "list members"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []*Membership
	for _, m := range s.members[orgID] {
		if m.IsActive {
			out = append(out, cloneMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) activeCount(orgID string, role TenantRole) int {
	n := 0
	for _, m := range s.members[orgID] {
		if m.IsActive && (role == "" || m.Role == role) {
			n++
		}
	}
	return n
}

// admit must be called with s.mu held
func (s *MemoryStore) admit(m *Membership) (*Membership, error) {
	org, ok := s.orgs[m.OrganizationID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", m.OrganizationID, auth.ErrNotFound)
	}
	existing := s.members[org.ID][m.UserID]
	if existing != nil && existing.IsActive {
		return nil, fmt.Errorf("membership: %w", auth.ErrAlreadyExists)
	}
	if org.MaxMembers > 0 && s.activeCount(org.ID, "") >= org.MaxMembers {
		return nil, auth.ErrMemberLimit
	}

	now := s.now()
	if existing == nil {
		existing = &Membership{
			ID:             uuid.New().String(),
			OrganizationID: org.ID,
			UserID:         m.UserID,
		}
		if s.members[org.ID] == nil {
			s.members[org.ID] = make(map[string]*Membership)
		}
		s.members[org.ID][m.UserID] = existing
	}
	existing.Role = m.Role
	existing.IsActive = true
	existing.InvitedBy = m.InvitedBy
	existing.JoinedAt = now
	existing.UpdatedAt = now
	return cloneMembership(existing), nil
}

// CreateMembership implements Store
func (s *MemoryStore) CreateMembership(ctx context.Context, m *Membership) (*Membership, error) {
	if err := s.lock(ctx, "create membership"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.admit(m)
}

func (s *MemoryStore) activeMember(orgID, userID string) (*Membership, error) {
	if _, ok := s.orgs[orgID]; !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, auth.ErrNotFound)
	}
	m, ok := s.members[orgID][userID]
	if !ok || !m.IsActive {
		return nil, fmt.Errorf("membership: %w", auth.ErrNotFound)
	}
	return m, nil
}

// UpdateMemberRole implements Store
func (s *MemoryStore) UpdateMemberRole(ctx context.Context, orgID, userID string, role TenantRole) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown tenant role %q", auth.ErrInvalidInput, role)
	}
	if err := s.lock(ctx, "update member role"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	m, err := s.activeMember(orgID, userID)
	if err != nil {
		return nil, err
	}
	if m.Role == RoleOwner && role != RoleOwner && s.activeCount(orgID, RoleOwner) <= 1 {
		return nil, auth.ErrLastOwner
	}
	m.Role = role
	m.UpdatedAt = s.now()
	return cloneMembership(m), nil
}

// RemoveMember implements Store
func (s *MemoryStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	if err := s.lock(ctx, "remove member"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	m, err := s.activeMember(orgID, userID)
	if err != nil {
		return err
	}
	if m.Role == RoleOwner && s.activeCount(orgID, RoleOwner) <= 1 {
		return auth.ErrLastOwner
	}
	m.IsActive = false
	m.UpdatedAt = s.now()
	return nil
}

// CreateInvitation implements Store
func (s *MemoryStore) CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error) {
	if err := s.lock(ctx, "create invitation"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.orgs[inv.OrganizationID]; !ok {
		return nil, fmt.Errorf("organization %s: %w", inv.OrganizationID, auth.ErrNotFound)
	}
	if _, dup := s.invitations[inv.TokenHash]; dup {
		return nil, fmt.Errorf("invitation token: %w", auth.ErrAlreadyExists)
	}
	created := cloneInvitation(inv)
	created.ID = uuid.New().String()
	created.CreatedAt = s.now()
	s.invitations[created.TokenHash] = created
	return cloneInvitation(created), nil
}

func (s *MemoryStore) findInvitation(orgID, id string) *Invitation {
	for _, inv := range s.invitations {
		if inv.ID == id && inv.OrganizationID == orgID {
			return inv
		}
	}
	return nil
}

// GetInvitation implements Store
func (s *MemoryStore) GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error) {
	if err := s.lock(ctx, "get invitation"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	inv := s.findInvitation(orgID, id)
	if inv == nil {
		return nil, fmt.Errorf("invitation %s: %w", id, auth.ErrNotFound)
	}
	return cloneInvitation(inv), nil
}

// GetInvitationByTokenHash implements Store
func (s *MemoryStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	if err := s.lock(ctx, "get invitation by token"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	inv, ok := s.invitations[tokenHash]
	if !ok {
		return nil, fmt.Errorf("invitation: %w", auth.ErrNotFound)
	}
	return cloneInvitation(inv), nil
}

// ListInvitations implements Store
func (s *MemoryStore) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	if err := s.lock(ctx, "list invitations"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []*Invitation
	for _, inv := range s.invitations {
		if inv.OrganizationID == orgID && inv.AcceptedAt == nil && inv.RevokedAt == nil {
			out = append(out, cloneInvitation(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RevokeInvitation implements Store
func (s *MemoryStore) RevokeInvitation(ctx context.Context, orgID, id string, now time.Time) error {
	if err := s.lock(ctx, "revoke invitation"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	inv := s.findInvitation(orgID, id)
	switch {
	case inv == nil:
		return fmt.Errorf("invitation %s: %w", id, auth.ErrNotFound)
	case inv.AcceptedAt != nil:
		return fmt.Errorf("invitation %s: %w", id, auth.ErrAlreadyUsed)
	case inv.RevokedAt != nil:
		return nil
	}
	inv.RevokedAt = &now
	return nil
}

// RedeemInvitation implements Store
func (s *MemoryStore) RedeemInvitation(ctx context.Context, p RedeemParams) (*Invitation, *Membership, error) {
	if err := s.lock(ctx, "redeem invitation"); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	inv, ok := s.invitations[p.TokenHash]
	if !ok {
		return nil, nil, auth.ErrInvalidToken
	}
	if err := checkRedeemable(inv, p.Now); err != nil {
		return nil, nil, err
	}

	invitedBy := inv.CreatedBy
	member, err := s.admit(&Membership{
		OrganizationID: inv.OrganizationID,
		UserID:         p.UserID,
		Role:           inv.Role,
		InvitedBy:      &invitedBy,
	})
	if err != nil {
		return nil, nil, err
	}

	acceptedAt, acceptedBy := p.Now, p.UserID
	inv.AcceptedAt = &acceptedAt
	inv.AcceptedBy = &acceptedBy
	return cloneInvitation(inv), member, nil
}

// PurgeExpiredInvitations implements Store
func (s *MemoryStore) PurgeExpiredInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.lock(ctx, "purge invitations"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var n int64
	for hash, inv := range s.invitations {
		if inv.AcceptedAt == nil && inv.ExpiresAt.Before(cutoff) {
			delete(s.invitations, hash)
			n++
		}
	}
	return n, nil
}
