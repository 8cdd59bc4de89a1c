package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

// sentinelTable is the zero-column table whose comment carries the
// installed schema version. Its absence means version 0 (never
// installed).
const sentinelTable = "phoenix_kit"

// Querier is the read capability VersionStore needs. Both *sql.DB and
// *sql.Tx satisfy it.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Execer is the write capability VersionStore needs. Both *sql.DB and
// *sql.Tx satisfy it, which lets callers record the version inside the
// same transaction as the schema changes that justify it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// VersionStore reads and writes the installed schema version marker for
// one namespace.
type VersionStore struct {
	prefix string
}

// NewVersionStore creates a version store scoped to a namespace prefix
func NewVersionStore(prefix string) *VersionStore {
	if prefix == "" {
		prefix = "public"
	}
	return &VersionStore{prefix: prefix}
}

// Prefix returns the namespace this store is scoped to
func (v *VersionStore) Prefix() string {
	return v.prefix
}

// Current returns the installed schema version for the namespace. A
// missing sentinel table or an unparsable comment maps to 0: the
// never-installed state is not an error.
func (v *VersionStore) Current(ctx context.Context, q Querier) (int, error) {
	query := `
		SELECT COALESCE(obj_description(c.oid, 'pg_class'), '')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`

	var comment string
	err := q.QueryRowContext(ctx, query, v.prefix, sentinelTable).Scan(&comment)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version for %q: %w", v.prefix, err)
	}

	version, err := strconv.Atoi(comment)
	if err != nil || version < 0 {
		return 0, nil
	}
	return version, nil
}

// Record persists the version marker. It must run on the same
// transaction as the schema-altering statements so a crash between
// "tables altered" and "version recorded" cannot happen. Recording
// version 0 is a no-op: after a full rollback the sentinel table itself
// is gone and there is nothing left to annotate.
func (v *VersionStore) Record(ctx context.Context, e Execer, version int) error {
	if version == 0 {
		return nil
	}

	stmt := fmt.Sprintf("COMMENT ON TABLE %s.%s IS '%d'",
		pq.QuoteIdentifier(v.prefix), sentinelTable, version)
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to record schema version %d for %q: %w", version, v.prefix, err)
	}
	return nil
}

// EnsureSentinel creates the sentinel table if it does not exist yet
func (v *VersionStore) EnsureSentinel(ctx context.Context, e Execer) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s ()",
		pq.QuoteIdentifier(v.prefix), sentinelTable)
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create version sentinel for %q: %w", v.prefix, err)
	}
	return nil
}

// DropSentinel removes the sentinel table, returning the namespace to
// the never-installed state
func (v *VersionStore) DropSentinel(ctx context.Context, e Execer) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s",
		pq.QuoteIdentifier(v.prefix), sentinelTable)
	if _, err := e.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop version sentinel for %q: %w", v.prefix, err)
	}
	return nil
}
