package authorization

import (
	"fmt"
	"slices"
	"strings"
)

// Role is a typed string naming an operator API role.
type Role string

const (
	// RoleUser is held by every sync client token. It may read health.
	RoleUser Role = "user"

	// RoleOperator may additionally read the operator views.
	RoleOperator Role = "operator"
)

// Action is a typed string representing an action in the authorization system.
type Action string

// ActionRead is the only action the operator API exposes.
const ActionRead Action = "read"

// ParseRole maps a stored token role to a Role. Tokens issued without a
// role are plain users.
func ParseRole(raw string) (Role, error) {
	if raw == "" {
		return RoleUser, nil
	}
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("invalid role: %s (valid roles: %s)", raw, strings.Join(ValidRoles(), ", "))
	}
	return role, nil
}

// Valid checks if the role is a known role.
func (r Role) Valid() bool {
	return slices.Contains([]Role{RoleUser, RoleOperator}, r)
}

// ValidRoles returns the known roles as strings.
func ValidRoles() []string {
	return []string{string(RoleUser), string(RoleOperator)}
}

// FormatRole returns the Casbin subject for a role.
func FormatRole(role Role) string {
	return "role:" + string(role)
}
