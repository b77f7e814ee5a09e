package diploma

import (
	"fmt"
	"sort"
	"strings"
)

// Role is an institutional role that may hold signing authority.
type Role string

const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"
	RoleAdmin        Role = "ADMIN"
	RoleRector       Role = "RECTOR"
	RoleDean         Role = "DEAN"
	RoleDirector     Role = "DIRECTOR"
	RoleHeadOfDept   Role = "HEAD_OF_DEPT"
	RoleAdminSchool  Role = "ADMIN_SCHOOL"
	RoleAdminTutelle Role = "ADMIN_TUTELLE"
	RoleSigner       Role = "SIGNER"
	RoleValidator    Role = "VALIDATOR"
	RoleVerifier     Role = "VERIFIER"
)

var knownRoles = map[Role]bool{
	RoleSuperAdmin:   true,
	RoleAdmin:        true,
	RoleRector:       true,
	RoleDean:         true,
	RoleDirector:     true,
	RoleHeadOfDept:   true,
	RoleAdminSchool:  true,
	RoleAdminTutelle: true,
	RoleSigner:       true,
	RoleValidator:    true,
	RoleVerifier:     true,
}

// ParseRole converts s (case-insensitive) into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !knownRoles[r] {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// RoleSet is a set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Contains reports whether r is in the set.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Sorted returns the roles in lexical order.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
