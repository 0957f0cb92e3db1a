package profiles

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// MemoryStore implements Store in memory. A single mutex provides the
// atomicity the Postgres store gets from its advisory lock.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		now:      time.Now,
	}
}

func clone(p *Profile) *Profile {
	cp := *p
	if p.UpdatedBy != nil {
		s := *p.UpdatedBy
		cp.UpdatedBy = &s
	}
	return &cp
}

// GetProfile implements Store
func (m *MemoryStore) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.StoreError("get profile", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[principalID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", principalID, auth.ErrNotFound)
	}
	return clone(p), nil
}

// UpsertProfile implements Store
func (m *MemoryStore) UpsertProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.StoreError("upsert profile", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p, ok := m.profiles[profile.PrincipalID]
	if !ok {
		p = &Profile{
			PrincipalID: profile.PrincipalID,
			Role:        rbac.RoleUser,
			IsActive:    true,
			CreatedAt:   now,
		}
		m.profiles[p.PrincipalID] = p
	}
	p.FirstName = profile.FirstName
	p.LastName = profile.LastName
	p.DisplayName = profile.DisplayName
	p.UpdatedBy = profile.UpdatedBy
	p.UpdatedAt = now
	return clone(p), nil
}

// ListProfiles implements Store
func (m *MemoryStore) ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		all = append(all, clone(p))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].PrincipalID < all[j].PrincipalID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// CountSuperAdmins implements Store
func (m *MemoryStore) CountSuperAdmins(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, auth.StoreError("count super admins", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(), nil
}

func (m *MemoryStore) countLocked() int {
	n := 0
	for _, p := range m.profiles {
		if p.Role == rbac.RoleSuperAdmin && p.IsActive {
			n++
		}
	}
	return n
}

// CreateFirstSuperAdmin implements Store
func (m *MemoryStore) CreateFirstSuperAdmin(ctx context.Context, profile *Profile) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, auth.StoreError("create first super admin", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countLocked() > 0 {
		return nil, fmt.Errorf("super admin: %w", auth.ErrAlreadyExists)
	}

	now := m.now()
	id := profile.PrincipalID
	p := &Profile{
		PrincipalID: id,
		Role:        rbac.RoleSuperAdmin,
		IsActive:    true,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		DisplayName: profile.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   &id,
	}
	if existing, ok := m.profiles[id]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	m.profiles[id] = p
	return clone(p), nil
}

// SetRole implements Store
func (m *MemoryStore) SetRole(ctx context.Context, principalID string, role rbac.Role, actorID string) (*Profile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	return m.mutate(principalID, actorID, func(p *Profile) bool {
		return role != rbac.RoleSuperAdmin
	}, func(p *Profile) {
		p.Role = role
	})
}

// SetActive implements Store
func (m *MemoryStore) SetActive(ctx context.Context, principalID string, active bool, actorID string) (*Profile, error) {
	return m.mutate(principalID, actorID, func(p *Profile) bool {
		return !active
	}, func(p *Profile) {
		p.IsActive = active
	})
}

func (m *MemoryStore) mutate(principalID, actorID string, removesSuperAdmin func(*Profile) bool, apply func(*Profile)) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[principalID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", principalID, auth.ErrNotFound)
	}
	if p.Role == rbac.RoleSuperAdmin && p.IsActive && removesSuperAdmin(p) && m.countLocked() <= 1 {
		return nil, auth.ErrLastSuperAdmin
	}

	apply(p)
	p.UpdatedAt = m.now()
	p.UpdatedBy = &actorID
	return clone(p), nil
}

// Put stores a profile as-is. Intended for seeding tests and fixtures.
func (m *MemoryStore) Put(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.profiles[p.PrincipalID] = clone(p)
}
