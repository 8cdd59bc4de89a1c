package schema

import (
	"context"
	"database/sql"
)

// stepV02 adds the key/value settings table. It is not part of auth
// proper but sits in the version sequence, so rollbacks and re-runs
// cross it.
type stepV02 struct{}

func (stepV02) Version() int { return 2 }

func (stepV02) Description() string { return "create settings table" }

func (stepV02) Up(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`CREATE TABLE IF NOT EXISTS {schema}.settings (
			id BIGSERIAL PRIMARY KEY,
			key VARCHAR(255) NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			inserted_at TIMESTAMP(0) NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP(0) NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS settings_key_index ON {schema}.settings (key)`,
	})
}

func (stepV02) Down(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`DROP TABLE IF EXISTS {schema}.settings`,
	})
}
