package model

import "strings"

// Role is a user type. Each role owns a separate user partition.
type Role string

const (
	// RolePatient is a study participant.
	RolePatient Role = "patient"
	// RoleClinician is a clinician following patients.
	RoleClinician Role = "clinician"
	// RoleAdmin is a research administrator.
	RoleAdmin Role = "admin"
)

// Roles lists every known role in partition order.
var Roles = []Role{RolePatient, RoleClinician, RoleAdmin}

// roleAliases maps accepted path/body spellings to roles.
var roleAliases = map[string]Role{
	"patient":   RolePatient,
	"clinician": RoleClinician,
	"doctor":    RoleClinician,
	"admin":     RoleAdmin,
}

// ParseRole resolves a user supplied role tag. Unknown tags return ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	role, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
