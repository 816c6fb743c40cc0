package domain

import "time"

// UserRole enumerates who a user is to the help desk.
type UserRole string

const (
	RoleAdmin            UserRole = "admin"
	RoleDeveloper        UserRole = "developer"
	RoleClientManagement UserRole = "client_management"
	RoleClient           UserRole = "client"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleClientManagement, RoleClient:
		return true
	}
	return false
}

// IsStaff reports whether the role works tickets rather than filing them.
func (r UserRole) IsStaff() bool {
	return r == RoleDeveloper || r == RoleClientManagement || r == RoleAdmin
}

// UserLevel is a staff proficiency level.
type UserLevel string

const (
	LevelL1 UserLevel = "L1"
	LevelL2 UserLevel = "L2"
	LevelL3 UserLevel = "L3"
)

func (l UserLevel) Valid() bool {
	switch l {
	case LevelL1, LevelL2, LevelL3:
		return true
	}
	return false
}

// User is an account that can authenticate against the service.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         UserRole
	Level        *UserLevel
	IsActive     bool
	CreatedBy    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LevelLabel returns the level for display, or "N/A" when unset.
func (u *User) LevelLabel() string {
	if u == nil || u.Level == nil {
		return "N/A"
	}
	return string(*u.Level)
}
