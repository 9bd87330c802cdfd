package policy

import (
	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

// Roles allowed to create accounts at all.
var creatorRoles = []string{"System Manager", "Association Administrator"}

// Roles an Association Administrator may grant. System Manager is
// unrestricted.
var administratorGrantable = map[string]struct{}{
	"Association Member":    {},
	"Association Volunteer": {},
	"Association Manager":   {},
	"Chapter Manager":       {},
	"Employee":              {},
	"Employee Self Service": {},
}

// RolePolicy is the allow-list permission model: who may create
// accounts and which roles each creator may hand out.
type RolePolicy struct{}

func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

func (RolePolicy) CanCreateUsers(p domain.Principal) bool {
	for _, role := range creatorRoles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

func (RolePolicy) CanGrantRole(p domain.Principal, role string) bool {
	if p.HasRole("System Manager") {
		return true
	}
	if !p.HasRole("Association Administrator") {
		return false
	}
	_, ok := administratorGrantable[role]
	return ok
}
