package schema

import (
	"context"
	"database/sql"
)

// stepV04 adds the secondary role tier: the roles2 column with its
// value-domain constraint and default, plus a supporting index. The
// elevation trigger function is replaced with the variant that also
// sets roles2 for the first user; Down restores the original.
type stepV04 struct{}

func (stepV04) Version() int { return 4 }

func (stepV04) Description() string { return "add secondary role tier column" }

func (stepV04) Up(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`ALTER TABLE {schema}.users ADD COLUMN IF NOT EXISTS roles2 VARCHAR(50) NOT NULL DEFAULT 'guest'`,
		`ALTER TABLE {schema}.users DROP CONSTRAINT IF EXISTS users_roles2_check`,
		`ALTER TABLE {schema}.users ADD CONSTRAINT users_roles2_check
			CHECK (roles2 IN ('guest', 'member', 'editor', 'owner'))`,
		`CREATE INDEX IF NOT EXISTS users_roles2_index ON {schema}.users (roles2)`,
		assignRoleFunctionSQL(true),
	})
}

func (stepV04) Down(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		assignRoleFunctionSQL(false),
		`DROP INDEX IF EXISTS {schema}.users_roles2_index`,
		`ALTER TABLE {schema}.users DROP CONSTRAINT IF EXISTS users_roles2_check`,
		`ALTER TABLE {schema}.users DROP COLUMN IF EXISTS roles2`,
	})
}
