package invitations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// DefaultTTL is how long an invitation stays redeemable
const DefaultTTL = 7 * 24 * time.Hour

// Config configures the invitation service
type Config struct {
	// TTL is the lifetime of new invitations. Zero uses DefaultTTL.
	TTL time.Duration
	// RequireEmailMatch rejects redemption by a principal whose email
	// differs from the invited address.
	RequireEmailMatch bool
	// PurgeAfter keeps expired invitations this long before Purge deletes
	// them.
	PurgeAfter time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		RequireEmailMatch: true,
		PurgeAfter:        30 * 24 * time.Hour,
	}
}

// Issued is a freshly created invitation together with its plaintext
// token. The token is only available at this point.
type Issued struct {
	Invitation *orgs.Invitation `json:"invitation"`
	Token      string           `json:"token"`
}

// Service issues and redeems organization invitations
type Service struct {
	store    orgs.Store
	resolver *orgs.Resolver
	tokens   *auth.TokenGenerator
	config   Config
	logger   *observability.Logger
	now      func() time.Time
}

// NewService creates a new invitation Service
func NewService(store orgs.Store, resolver *orgs.Resolver, config Config, logger *observability.Logger) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if logger == nil {
		logger = observability.NewLogger(observability.WarnLevel, io.Discard)
	}
	return &Service{
		store:    store,
		resolver: resolver,
		tokens:   auth.NewInvitationTokenGenerator(),
		config:   config,
		logger:   logger.WithField("component", "invitations"),
		now:      time.Now,
	}
}

// Issue creates an invitation to orgID on behalf of issuer. The issuer must
// be an active member allowed to invite, and cannot hand out a role above
// their own.
func (s *Service) Issue(ctx context.Context, orgID string, issuer *orgs.Membership, email string, role orgs.TenantRole) (*Issued, error) {
	if issuer == nil || issuer.OrganizationID != orgID || !issuer.Can(orgs.OpInviteMember) {
		return nil, fmt.Errorf("%w: not allowed to invite members", auth.ErrForbidden)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown tenant role %q", auth.ErrInvalidInput, role)
	}
	if role.Rank() > issuer.Role.Rank() {
		return nil, auth.ErrInsufficientRole
	}
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	token, tokenHash, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	inv, err := s.store.CreateInvitation(ctx, &orgs.Invitation{
		OrganizationID: orgID,
		Email:          normalized,
		Role:           role,
		TokenHash:      tokenHash,
		ExpiresAt:      s.now().Add(s.config.TTL),
		CreatedBy:      issuer.UserID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"invitation_id":   inv.ID,
		"token":           s.tokens.Display(token),
	}).Info("invitation issued")
	s.record(ctx, audit.EventTypeInvitationIssue, audit.EventStatusSuccess, orgID, inv.ID, map[string]interface{}{
		"email": normalized,
		"role":  string(role),
	})

	return &Issued{Invitation: inv, Token: token}, nil
}

// IssueFor resolves userID's membership in orgRef and issues an invitation
func (s *Service) IssueFor(ctx context.Context, userID, orgRef, email string, role orgs.TenantRole) (*Issued, error) {
	res, err := s.resolver.Require(ctx, userID, orgRef, orgs.OpInviteMember)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, res.Organization.ID, res.Membership, email, role)
}

// Redeem consumes token on behalf of principal and returns the resulting
// membership.
func (s *Service) Redeem(ctx context.Context, token string, principal *auth.Principal) (*orgs.Membership, error) {
	if principal == nil {
		return nil, auth.ErrUnauthenticated
	}
	if err := s.tokens.ValidateFormat(token); err != nil {
		return nil, err
	}
	tokenHash := s.tokens.Hash(token)

	inv, err := s.store.GetInvitationByTokenHash(ctx, tokenHash)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if s.config.RequireEmailMatch && !emailMatches(inv.Email, principal.Email) {
		s.record(ctx, audit.EventTypeInvitationRedeem, audit.EventStatusDenied, inv.OrganizationID, inv.ID,
			map[string]interface{}{"reason": "email_mismatch"})
		return nil, fmt.Errorf("%w: invitation was issued to a different email address", auth.ErrForbidden)
	}

	_, member, err := s.store.RedeemInvitation(ctx, orgs.RedeemParams{
		TokenHash: tokenHash,
		UserID:    principal.ID,
		Now:       s.now(),
	})
	if err != nil {
		s.record(ctx, audit.EventTypeInvitationRedeem, audit.EventStatusFailure, inv.OrganizationID, inv.ID,
			map[string]interface{}{"reason": string(auth.ReasonOf(err))})
		return nil, err
	}

	s.record(ctx, audit.EventTypeInvitationRedeem, audit.EventStatusSuccess, inv.OrganizationID, inv.ID,
		map[string]interface{}{"role": string(member.Role)})
	return member, nil
}

// Revoke revokes a pending invitation
func (s *Service) Revoke(ctx context.Context, userID, orgRef, invitationID string) error {
	res, err := s.resolver.Require(ctx, userID, orgRef, orgs.OpRevokeInvitation)
	if err != nil {
		return err
	}
	if err := s.store.RevokeInvitation(ctx, res.Organization.ID, invitationID, s.now()); err != nil {
		return err
	}
	s.record(ctx, audit.EventTypeInvitationRevoke, audit.EventStatusSuccess, res.Organization.ID, invitationID, nil)
	return nil
}

// List returns the organization's pending invitations
func (s *Service) List(ctx context.Context, userID, orgRef string) ([]*orgs.Invitation, error) {
	res, err := s.resolver.Require(ctx, userID, orgRef, orgs.OpListInvitations)
	if err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, res.Organization.ID)
}

// Purge deletes unaccepted invitations that expired more than PurgeAfter ago
func (s *Service) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.PurgeAfter)
	n, err := s.store.PurgeExpiredInvitations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("purged expired invitations")
		s.record(ctx, audit.EventTypeInvitationPurge, audit.EventStatusSuccess, "", "",
			map[string]interface{}{"count": n, "cutoff": cutoff})
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, status audit.EventStatus, orgID, invitationID string, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, status)
	event.OrganizationID = orgID
	event.ResourceType = audit.ResourceTypeInvitation
	event.ResourceID = invitationID
	event.Metadata = metadata
	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}

func emailMatches(invited, actual string) bool {
	normalized, err := auth.NormalizeEmail(actual)
	return err == nil && normalized == invited
}
