// Package phoenixkit is the embedding surface for host applications: a
// single Kit value that detects the database store, provisions the
// schema, and exposes the account, session, and settings stores plus
// ready-to-mount HTTP routes.
package phoenixkit
