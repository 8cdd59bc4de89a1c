// Package schema contains PhoenixKit's schema-version-driven migration
// system for PostgreSQL.
//
// # Overview
//
// The package has three parts:
//
//  1. VersionStore: the installed-version marker, persisted as a
//     comment on the phoenix_kit sentinel table and scoped per
//     namespace prefix. A missing sentinel means version 0.
//  2. Step: one versioned, idempotent unit of forward/backward schema
//     change (V01..V04), parameterized by namespace prefix.
//  3. Runner: the state machine over [0, LatestVersion] that applies
//     step batches in strict version order inside one transaction per
//     call, with a single version write per batch.
//
// # Failure semantics
//
// A batch either fully applies and records its new version, or rolls
// back entirely with the version untouched, so a retry resumes from the
// previously installed version. A version index in the planned range
// with no registered step fails the call with MissingStepError before
// any DDL runs.
//
// # Concurrency
//
// Concurrent runners targeting the same namespace serialize on a
// per-namespace advisory lock. Because every step is defensive
// (IF NOT EXISTS / IF EXISTS), a second runner that wins the lock after
// another already migrated simply observes the new version and no-ops.
package schema
