package orgs

// Operation is a tenant-scoped action
type Operation string

const (
	OpViewOrganization   Operation = "view_organization"
	OpListMembers        Operation = "list_members"
	OpUpdateSettings     Operation = "update_settings"
	OpChangeMemberRole   Operation = "change_member_role"
	OpRemoveMember       Operation = "remove_member"
	OpInviteMember       Operation = "invite_member"
	OpRevokeInvitation   Operation = "revoke_invitation"
	OpListInvitations    Operation = "list_invitations"
	OpDeleteOrganization Operation = "delete_organization"
)

var (
	everyone        = []TenantRole{RoleOwner, RoleAdmin, RoleManager, RoleMember}
	ownersAndAdmins = []TenantRole{RoleOwner, RoleAdmin}
)

// operationPolicy lists exactly which tenant roles may perform each
// operation. Operations missing from the table are denied.
var operationPolicy = map[Operation][]TenantRole{
	OpViewOrganization:   everyone,
	OpListMembers:        everyone,
	OpUpdateSettings:     ownersAndAdmins,
	OpChangeMemberRole:   ownersAndAdmins,
	OpRemoveMember:       ownersAndAdmins,
	OpInviteMember:       ownersAndAdmins,
	OpRevokeInvitation:   ownersAndAdmins,
	OpListInvitations:    {RoleOwner, RoleAdmin, RoleManager},
	OpDeleteOrganization: {RoleOwner},
}

// Allowed reports whether role may perform op
func Allowed(role TenantRole, op Operation) bool {
	for _, r := range operationPolicy[op] {
		if r == role {
			return true
		}
	}
	return false
}

// AllowedRoles returns the roles permitted to perform op
func AllowedRoles(op Operation) []TenantRole {
	roles := operationPolicy[op]
	out := make([]TenantRole, len(roles))
	copy(out, roles)
	return out
}

// Can reports whether the membership is active and its role may perform op
func (m *Membership) Can(op Operation) bool {
	return m != nil && m.IsActive && Allowed(m.Role, op)
}
