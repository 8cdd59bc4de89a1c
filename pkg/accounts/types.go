package accounts

import (
	"time"
)

// PrimaryRole is the coarse per-account role stored directly on the
// users row. The value domain is enforced by a CHECK constraint in the
// database as well.
type PrimaryRole string

const (
	PrimaryUser      PrimaryRole = "user"
	PrimaryModerator PrimaryRole = "moderator"
	PrimaryAdmin     PrimaryRole = "admin"
)

// Valid reports whether the role is in the allowed value domain
func (r PrimaryRole) Valid() bool {
	switch r {
	case PrimaryUser, PrimaryModerator, PrimaryAdmin:
		return true
	}
	return false
}

// SecondaryRole is the finer-grained tier introduced by schema V04,
// stored in the roles2 column.
type SecondaryRole string

const (
	SecondaryGuest  SecondaryRole = "guest"
	SecondaryMember SecondaryRole = "member"
	SecondaryEditor SecondaryRole = "editor"
	SecondaryOwner  SecondaryRole = "owner"
)

// Valid reports whether the role is in the allowed value domain
func (r SecondaryRole) Valid() bool {
	switch r {
	case SecondaryGuest, SecondaryMember, SecondaryEditor, SecondaryOwner:
		return true
	}
	return false
}

// Names of the system roles seeded by the first migration. These rows
// are referenced by name throughout and must never be deleted.
const (
	RoleOwner = "Owner"
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// Account is one row of the users table
type Account struct {
	ID             int64         `json:"id"`
	Email          string        `json:"email"`
	HashedPassword string        `json:"-"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
	Role           PrimaryRole   `json:"role"`
	SecondaryRole  SecondaryRole `json:"secondary_role"`
	IsActive       bool          `json:"is_active"`
	InsertedAt     time.Time     `json:"inserted_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Role is one row of the roles table
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	InsertedAt   time.Time `json:"inserted_at"`
}

// RoleAssignment links an account to a role. Assignments are
// soft-deactivated rather than deleted so the assignment history
// survives revocation.
type RoleAssignment struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	RoleName   string    `json:"role_name"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
	IsActive   bool      `json:"is_active"`
}

// RegistrationResult reports what the elevation trigger decided for a
// newly created account. AssignmentFlagged is set when the account row
// exists but its expected role assignment does not, which corresponds
// to the trigger degrading an assignment failure to a warning.
type RegistrationResult struct {
	Account           *Account `json:"account"`
	ElevatedToOwner   bool     `json:"elevated_to_owner"`
	AssignmentFlagged bool     `json:"assignment_flagged,omitempty"`
}
