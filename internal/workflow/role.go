// Package workflow matches free-text requirements to predefined
// workflow templates and drives their phased execution across a team
// of agents.
package workflow

import (
	"fmt"
)

// Role identifies an agent specialty. Roles are a closed set so a typo
// in a template or config fails at load time instead of silently
// producing an agent nobody asked for.
type Role int

const (
	RoleFrontend Role = iota
	RoleBackend
	RoleTesting
	RoleStyling
	RoleDocs
)

// roleNames is indexed by Role.
var roleNames = [...]string{
	RoleFrontend: "frontend",
	RoleBackend:  "backend",
	RoleTesting:  "testing",
	RoleStyling:  "styling",
	RoleDocs:     "docs",
}

// rolePersonas is the standing context handed to an agent of each role.
var rolePersonas = [...]string{
	RoleFrontend: "You build user interfaces: components, pages, client-side state, and API consumption.",
	RoleBackend:  "You build server-side code: APIs, data models, business logic, and persistence.",
	RoleTesting:  "You write and maintain tests: unit, integration, and regression coverage.",
	RoleStyling:  "You own visual design implementation: layout, theming, and responsive styling.",
	RoleDocs:     "You write developer and user documentation for the work the team produces.",
}

func (r Role) String() string {
	if int(r) < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// Persona returns the role's standing agent context.
func (r Role) Persona() string {
	if int(r) < 0 || int(r) >= len(rolePersonas) {
		return ""
	}
	return rolePersonas[r]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return int(r) >= 0 && int(r) < len(roleNames)
}

// ParseRole maps a role name to its Role value.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// AllRoles returns every defined role in declaration order.
func AllRoles() []Role {
	out := make([]Role, len(roleNames))
	for i := range out {
		out[i] = Role(i)
	}
	return out
}
