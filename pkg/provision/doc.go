// Package provision implements lazy store detection and schema
// provisioning. On first use it walks a prioritized list of DSN
// candidate sources (explicit configuration, conventional environment
// variables, ambient libpq settings), probes each for a live
// PostgreSQL server, and brings the winning store's schema up to the
// target version.
package provision
