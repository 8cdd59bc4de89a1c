// Package accounts implements the account and role model: registration
// with trigger-driven first-user elevation, the two role tiers on the
// users row, named role assignments, and the owner-protection rules
// that keep at least one active Owner in existence.
package accounts
