// Package auth provides password hashing and session token management.
//
// Passwords are hashed with bcrypt. Session tokens are 256-bit random
// values handed to the client once; only their SHA-256 digest is stored
// in the users_tokens table. Tokens expire by age (60 days by default)
// and a cron-scheduled janitor deletes expired rows.
package auth
