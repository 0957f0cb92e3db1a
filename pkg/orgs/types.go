package orgs

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TenantRole is a principal's role inside one organization. It is
// independent of the platform role.
type TenantRole string

const (
	RoleOwner   TenantRole = "owner"
	RoleAdmin   TenantRole = "admin"
	RoleManager TenantRole = "manager"
	RoleMember  TenantRole = "member"
)

var tenantRoleRank = map[TenantRole]int{
	RoleMember:  0,
	RoleManager: 1,
	RoleAdmin:   2,
	RoleOwner:   3,
}

// ParseTenantRole converts a string into a TenantRole
func ParseTenantRole(s string) (TenantRole, error) {
	r := TenantRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown tenant role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known tenant role
func (r TenantRole) Valid() bool {
	_, ok := tenantRoleRank[r]
	return ok
}

// Rank orders tenant roles; owner is highest. Used to stop an actor from
// granting a role above their own.
func (r TenantRole) Rank() int {
	if rank, ok := tenantRoleRank[r]; ok {
		return rank
	}
	return -1
}

// PlanType is the subscription plan of an organization
type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanPro        PlanType = "pro"
	PlanEnterprise PlanType = "enterprise"
)

// SubscriptionStatus mirrors the billing provider's status
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Organization is a tenant
type Organization struct {
	ID                 string             `json:"id"`
	Slug               string             `json:"slug"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	MaxMembers         int                `json:"max_members"`
	PlanType           PlanType           `json:"plan_type"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CreatedBy          string             `json:"created_by"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Membership links a principal to an organization. At most one row exists
// per (organization, user); removal deactivates it.
type Membership struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Role           TenantRole `json:"role"`
	IsActive       bool       `json:"is_active"`
	JoinedAt       time.Time  `json:"joined_at"`
	InvitedBy      *string    `json:"invited_by,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Invitation is a pending offer to join an organization
type Invitation struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           TenantRole `json:"role"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy     *string    `json:"accepted_by,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Pending reports whether the invitation can still be redeemed at now
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && i.RevokedAt == nil && now.Before(i.ExpiresAt)
}

// Resolution is the organization a request acts on together with the
// caller's active membership in it.
type Resolution struct {
	Organization *Organization `json:"organization"`
	Membership   *Membership   `json:"membership"`
}

// CreateRequest holds the fields accepted when creating an organization
type CreateRequest struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	PlanType    PlanType `json:"plan_type,omitempty"`
	MaxMembers  int      `json:"max_members,omitempty"`
}

// UpdateRequest holds the mutable organization settings
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	MaxMembers  *int    `json:"max_members,omitempty"`
}

// RedeemParams is the input of Store.RedeemInvitation
type RedeemParams struct {
	TokenHash string
	UserID    string
	Now       time.Time
}

// Store persists organizations, memberships and invitations.
// CreateMembership, UpdateMemberRole, RemoveMember and RedeemInvitation
// must each be a single atomic operation.
type Store interface {
	// CreateOrganization inserts org and the creator's owner membership
	CreateOrganization(ctx context.Context, org *Organization, ownerID string) (*Organization, *Membership, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) (*Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	// GetMembership returns the membership row, active or not, or
	// auth.ErrNotFound.
	GetMembership(ctx context.Context, orgID, userID string) (*Membership, error)
	// ListMemberships returns the user's active memberships ordered
	// by joined_at, then membership id.
	ListMemberships(ctx context.Context, userID string) ([]*Resolution, error)
	ListMembers(ctx context.Context, orgID string) ([]*Membership, error)
	// CreateMembership fails with auth.ErrAlreadyExists for an active
	// membership, reactivates an inactive one and enforces MaxMembers.
	CreateMembership(ctx context.Context, m *Membership) (*Membership, error)
	// UpdateMemberRole and RemoveMember refuse with auth.ErrLastOwner
	// when the organization would be left without an active owner.
	UpdateMemberRole(ctx context.Context, orgID, userID string, role TenantRole) (*Membership, error)
	RemoveMember(ctx context.Context, orgID, userID string) error

	CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error)
	GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	// ListInvitations returns pending (not accepted, not revoked) invitations
	ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error)
	RevokeInvitation(ctx context.Context, orgID, id string, now time.Time) error
	// RedeemInvitation locks the invitation, re-validates it, creates or
	// reactivates the membership and marks the invitation accepted.
	RedeemInvitation(ctx context.Context, p RedeemParams) (*Invitation, *Membership, error)
	// PurgeExpiredInvitations deletes unaccepted invitations that expired
	// before cutoff.
	PurgeExpiredInvitations(ctx context.Context, cutoff time.Time) (int64, error)
}
