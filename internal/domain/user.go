package domain

import "time"

// Role is the closed set of helpdesk roles.
type Role string

const (
	RoleRequester  Role = "SOLICITANTE"
	RoleTechnician Role = "TECNICO"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleTechnician
}

// User is an account provisioned by administrators.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	AreaID       *int64
	AreaName     string
	CreatedAt    time.Time
}

// Area groups requesters by organizational unit.
type Area struct {
	ID   int64
	Name string
}

// TechnicianRef is the public view of a technician.
type TechnicianRef struct {
	ID       int64
	Username string
}
