package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is the single authoritative role of a user.
type Role string

const (
	RoleAdminGeneral Role = "admin_general"
	RoleSousAdmin    Role = "sous_admin"
	RoleChefAgence   Role = "chef_agence"
	RoleAgent        Role = "agent"
	RoleDeveloper    Role = "developer"
)

// Roles lists every role from the top of the hierarchy down.
var Roles = []Role{RoleAdminGeneral, RoleSousAdmin, RoleChefAgence, RoleAgent, RoleDeveloper}

// creatable is the permission table: role -> roles it may create.
var creatable = map[Role]map[Role]bool{
	RoleAdminGeneral: {RoleSousAdmin: true, RoleChefAgence: true, RoleDeveloper: true},
	RoleChefAgence:   {RoleAgent: true},
}

var identifierPatterns = map[Role]*regexp.Regexp{
	RoleAdminGeneral: regexp.MustCompile(`^(admin|sadmin)\.[a-z]+$`),
	RoleSousAdmin:    regexp.MustCompile(`^(admin|sadmin)\.[a-z]+$`),
	RoleChefAgence:   regexp.MustCompile(`^chef\.[a-z]+\.[a-z]+$`),
	RoleAgent:        regexp.MustCompile(`^[a-z0-9]+\.[a-z]+$`),
	RoleDeveloper:    regexp.MustCompile(`^dev\.[a-z]+$`),
}

// ParseRole converts a string into a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := identifierPatterns[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := identifierPatterns[r]
	return ok
}

// IsAdministrator reports whether r is one of the two administrator roles.
func (r Role) IsAdministrator() bool {
	return r == RoleAdminGeneral || r == RoleSousAdmin
}

// RequiresAgency reports whether users of this role must belong to an agency.
func (r Role) RequiresAgency() bool {
	return r == RoleChefAgence || r == RoleAgent
}

// CanCreate reports whether r may provision a user of role target.
func (r Role) CanCreate(target Role) bool {
	return creatable[r][target]
}

// CanValidate reports whether r may claim and settle operations.
func (r Role) CanValidate() bool {
	return r.IsAdministrator() || r == RoleChefAgence
}

// ValidIdentifier reports whether identifier matches the pattern for r.
func (r Role) ValidIdentifier(identifier string) bool {
	re, ok := identifierPatterns[r]
	return ok && re.MatchString(identifier)
}

// IdentifierPrefix returns the part of an identifier before the first dot.
func IdentifierPrefix(identifier string) string {
	if i := strings.IndexByte(identifier, '.'); i >= 0 {
		return identifier[:i]
	}
	return identifier
}
