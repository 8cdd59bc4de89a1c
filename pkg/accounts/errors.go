package accounts

import "errors"

var (
	// ErrEmailTaken is returned when registering with an email that
	// already has an account
	ErrEmailTaken = errors.New("email address already taken")

	// ErrAccountNotFound is returned when no account matches the lookup
	ErrAccountNotFound = errors.New("account not found")

	// ErrRoleNotFound is returned when no role matches the given name
	ErrRoleNotFound = errors.New("role not found")

	// ErrOwnerInvariant is returned by any operation that would leave
	// the system without a single active Owner
	ErrOwnerInvariant = errors.New("operation would remove the last active owner")

	// ErrInvalidRole is returned when a role value falls outside its
	// allowed domain
	ErrInvalidRole = errors.New("invalid role value")
)
