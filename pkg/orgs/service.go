package orgs

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const (
	maxNameLength = 255
	maxSlugLength = 63
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service implements the tenant-scoped organization operations. Every
// mutation resolves the caller's membership and checks the operation
// policy before touching the store.
type Service struct {
	store             Store
	resolver          *Resolver
	defaultMaxMembers int
	logger            *observability.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDefaultMaxMembers sets the member limit given to new organizations
// that do not request one. Zero means unlimited.
func WithDefaultMaxMembers(n int) ServiceOption {
	return func(s *Service) { s.defaultMaxMembers = n }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a new Service
func NewService(store Store, resolver *Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		logger:   observability.NewLogger(observability.WarnLevel, io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "orgs")
	return s
}

// Resolver returns the membership resolver used by the service
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CreateOrganization creates an organization owned by userID
func (s *Service) CreateOrganization(ctx context.Context, userID string, req CreateRequest) (*Resolution, error) {
	if userID == "" {
		return nil, auth.ErrUnauthenticated
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be between 1 and %d characters", auth.ErrInvalidInput, maxNameLength)
	}
	slug := req.Slug
	if slug == "" {
		slug = generateSlug(name)
	}
	if err := validateSlug(slug); err != nil {
		return nil, err
	}
	if req.MaxMembers < 0 {
		return nil, fmt.Errorf("%w: max_members must not be negative", auth.ErrInvalidInput)
	}

	org := &Organization{
		Slug:               slug,
		Name:               name,
		Description:        strings.TrimSpace(req.Description),
		MaxMembers:         req.MaxMembers,
		PlanType:           req.PlanType,
		SubscriptionStatus: SubscriptionActive,
	}
	if org.MaxMembers == 0 {
		org.MaxMembers = s.defaultMaxMembers
	}
	if org.PlanType == "" {
		org.PlanType = PlanFree
	}

	created, owner, err := s.store.CreateOrganization(ctx, org, userID)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventTypeOrgCreate, created.ID, audit.ResourceTypeOrganization, created.ID, nil)
	return &Resolution{Organization: created, Membership: owner}, nil
}

// ListForUser returns every organization the user is an active member of
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Resolution, error) {
	if userID == "" {
		return nil, auth.ErrUnauthenticated
	}
	return s.store.ListMemberships(ctx, userID)
}

// Current returns the organization the request acts on. An empty orgRef
// selects the user's earliest joined organization.
func (s *Service) Current(ctx context.Context, userID, orgRef string) (*Resolution, error) {
	res, err := s.resolver.ResolveMembership(ctx, userID, orgRef)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if orgRef == "" {
			return nil, fmt.Errorf("no organization: %w", auth.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: not a member of %q", auth.ErrForbidden, orgRef)
	}
	return res, nil
}

// UpdateSettings changes the organization's mutable settings
func (s *Service) UpdateSettings(ctx context.Context, userID, orgRef string, req UpdateRequest) (*Organization, error) {
	res, err := s.resolver.Require(ctx, userID, orgRef, OpUpdateSettings)
	if err != nil {
		return nil, err
	}

	org := *res.Organization
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > maxNameLength {
			return nil, fmt.Errorf("%w: name must be between 1 and %d characters", auth.ErrInvalidInput, maxNameLength)
		}
		org.Name = name
	}
	if req.Description != nil {
		org.Description = strings.TrimSpace(*req.Description)
	}
	if req.MaxMembers != nil {
		if *req.MaxMembers < 0 {
			return nil, fmt.Errorf("%w: max_members must not be negative", auth.ErrInvalidInput)
		}
		org.MaxMembers = *req.MaxMembers
	}

	updated, err := s.store.UpdateOrganization(ctx, &org)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventTypeOrgUpdate, org.ID, audit.ResourceTypeOrganization, org.ID, nil)
	return updated, nil
}

// ChangeMemberRole assigns a new tenant role to targetUserID. An actor may
// not grant a role above their own nor modify a member who outranks them.
func (s *Service) ChangeMemberRole(ctx context.Context, userID, orgRef, targetUserID string, role TenantRole) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown tenant role %q", auth.ErrInvalidInput, role)
	}
	res, err := s.resolver.Require(ctx, userID, orgRef, OpChangeMemberRole)
	if err != nil {
		return nil, err
	}
	actor := res.Membership
	if role.Rank() > actor.Role.Rank() {
		return nil, auth.ErrInsufficientRole
	}

	target, err := s.activeMember(ctx, res.Organization.ID, targetUserID)
	if err != nil {
		return nil, err
	}
	if target.Role.Rank() > actor.Role.Rank() {
		return nil, auth.ErrInsufficientRole
	}
	if target.Role == role {
		return target, nil
	}

	updated, err := s.store.UpdateMemberRole(ctx, res.Organization.ID, targetUserID, role)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventTypeOrgMemberRoleChange, res.Organization.ID, audit.ResourceTypeMembership, targetUserID,
		map[string]interface{}{"from": string(target.Role), "to": string(role)})
	return updated, nil
}

// RemoveMember removes targetUserID from the organization
func (s *Service) RemoveMember(ctx context.Context, userID, orgRef, targetUserID string) error {
	res, err := s.resolver.Require(ctx, userID, orgRef, OpRemoveMember)
	if err != nil {
		return err
	}

	target, err := s.activeMember(ctx, res.Organization.ID, targetUserID)
	if err != nil {
		return err
	}
	if target.Role.Rank() > res.Membership.Role.Rank() {
		return auth.ErrInsufficientRole
	}

	if err := s.store.RemoveMember(ctx, res.Organization.ID, targetUserID); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeOrgMemberRemove, res.Organization.ID, audit.ResourceTypeMembership, targetUserID, nil)
	return nil
}

// Leave removes the caller from the organization. The last owner cannot leave.
func (s *Service) Leave(ctx context.Context, userID, orgRef string) error {
	if orgRef == "" {
		return fmt.Errorf("%w: organization is required", auth.ErrInvalidInput)
	}
	res, err := s.resolver.ResolveMembership(ctx, userID, orgRef)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("membership: %w", auth.ErrNotFound)
	}

	if err := s.store.RemoveMember(ctx, res.Organization.ID, userID); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeOrgMemberLeave, res.Organization.ID, audit.ResourceTypeMembership, userID, nil)
	return nil
}

// DeleteOrganization deletes the organization with its memberships and
// invitations.
func (s *Service) DeleteOrganization(ctx context.Context, userID, orgRef string) error {
	res, err := s.resolver.Require(ctx, userID, orgRef, OpDeleteOrganization)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOrganization(ctx, res.Organization.ID); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeOrgDelete, res.Organization.ID, audit.ResourceTypeOrganization, res.Organization.ID, nil)
	return nil
}

// ListMembers lists the organization's active members
func (s *Service) ListMembers(ctx context.Context, userID, orgRef string) ([]*Membership, error) {
	res, err := s.resolver.Require(ctx, userID, orgRef, OpListMembers)
	if err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, res.Organization.ID)
}

func (s *Service) activeMember(ctx context.Context, orgID, userID string) (*Membership, error) {
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, fmt.Errorf("membership: %w", auth.ErrNotFound)
	}
	return m, nil
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, orgID string, resource audit.ResourceType, resourceID string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.OrganizationID = orgID
	event.ResourceType = resource
	event.ResourceID = resourceID
	event.Metadata = metadata
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", string(eventType)).Warn("failed to write audit event")
	}
}

func validateSlug(slug string) error {
	if len(slug) < 2 || len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug %q must be 2-%d lowercase letters, digits or single hyphens", auth.ErrInvalidInput, slug, maxSlugLength)
	}
	return nil
}

// generateSlug generates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			return r
		case r == ' ' || r == '-' || r == '_' || r == '.':
			return '-'
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}
