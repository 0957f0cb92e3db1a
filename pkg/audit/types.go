package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRedirect     EventType = "authz.redirect"

	// Bootstrap events
	EventTypeBootstrapCompleted EventType = "bootstrap.completed"
	EventTypeBootstrapRejected  EventType = "bootstrap.rejected"

	// Platform profile events
	EventTypeProfileCreate     EventType = "profile.create"
	EventTypeProfileRoleChange EventType = "profile.role_change"
	EventTypeProfileActivate   EventType = "profile.activate"
	EventTypeProfileDeactivate EventType = "profile.deactivate"

	// Organization events
	EventTypeOrgCreate           EventType = "org.create"
	EventTypeOrgUpdate           EventType = "org.update"
	EventTypeOrgDelete           EventType = "org.delete"
	EventTypeOrgMemberRoleChange EventType = "org.member_role_change"
	EventTypeOrgMemberRemove     EventType = "org.member_remove"
	EventTypeOrgMemberLeave      EventType = "org.member_leave"

	// Invitation events
	EventTypeInvitationIssue  EventType = "invitation.issue"
	EventTypeInvitationRedeem EventType = "invitation.redeem"
	EventTypeInvitationRevoke EventType = "invitation.revoke"
	EventTypeInvitationPurge  EventType = "invitation.purge"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event touches
type ResourceType string

const (
	ResourceTypePage         ResourceType = "page"
	ResourceTypeAPI          ResourceType = "api"
	ResourceTypeProfile      ResourceType = "profile"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeMembership   ResourceType = "membership"
	ResourceTypeInvitation   ResourceType = "invitation"
	ResourceTypeSystem       ResourceType = "system"
)

// AuditEvent is a single audit record
type AuditEvent struct {
	ID             int64                  `json:"id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Status         EventStatus            `json:"status"`
	ActorID        string                 `json:"actor_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	ResourceType   ResourceType           `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Message        string                 `json:"message,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	Method         string                 `json:"method,omitempty"`
	Path           string                 `json:"path,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows DBLogger.Search results
type SearchFilter struct {
	EventType      EventType
	ActorID        string
	OrganizationID string
	Status         EventStatus
	Since          *time.Time
	Limit          int
}
