package schema

import (
	"context"
	"database/sql"
)

// stepV03 adds account activation: the is_active flag on users and the
// partial index on active Owner assignments that backs the
// owner-protection queries.
type stepV03 struct{}

func (stepV03) Version() int { return 3 }

func (stepV03) Description() string { return "add account activation flag and owner indexes" }

func (stepV03) Up(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`ALTER TABLE {schema}.users ADD COLUMN IF NOT EXISTS is_active BOOLEAN NOT NULL DEFAULT TRUE`,
		`CREATE INDEX IF NOT EXISTS users_is_active_index ON {schema}.users (is_active)`,
		`CREATE INDEX IF NOT EXISTS role_assignments_active_index
			ON {schema}.role_assignments (role_id) WHERE is_active`,
	})
}

func (stepV03) Down(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`DROP INDEX IF EXISTS {schema}.role_assignments_active_index`,
		`DROP INDEX IF EXISTS {schema}.users_is_active_index`,
		`ALTER TABLE {schema}.users DROP COLUMN IF EXISTS is_active`,
	})
}
