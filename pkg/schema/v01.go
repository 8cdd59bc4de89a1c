package schema

import (
	"context"
	"database/sql"
)

// stepV01 establishes the foundational auth schema: the users table,
// the session token table, the role taxonomy (roles plus
// role_assignments), the three seeded system roles, and the trigger
// that elevates the first user ever created to Owner.
type stepV01 struct{}

func (stepV01) Version() int { return 1 }

func (stepV01) Description() string { return "create auth tables and first-user trigger" }

// assignRoleFunctionSQL builds the elevation trigger function body. The
// V04 step replaces the function with the secondary-tier variant and its
// down migration restores this one, so both renditions live here.
//
// The function runs AFTER INSERT on users. Concurrent first
// registrations serialize on an advisory lock taken only when the table
// looks empty, then re-check under the lock: exactly one registrant can
// observe zero other users. A missing system role raises (fatal
// configuration error); a failed assignment write degrades to a warning
// so it never rolls back the account creation itself.
func assignRoleFunctionSQL(withSecondaryTier bool) string {
	elevate := `UPDATE {schema}.users SET role = 'admin' WHERE id = NEW.id;`
	if withSecondaryTier {
		elevate = `UPDATE {schema}.users SET role = 'admin', roles2 = 'owner' WHERE id = NEW.id;`
	}

	return `
CREATE OR REPLACE FUNCTION {schema}.phoenix_kit_assign_role() RETURNS trigger AS $fn$
DECLARE
	other_users BIGINT;
	role_name TEXT;
	role_row_id BIGINT;
BEGIN
	SELECT COUNT(*) INTO other_users FROM {schema}.users WHERE id <> NEW.id;
	IF other_users = 0 THEN
		PERFORM pg_advisory_xact_lock(hashtext('{prefix}.phoenix_kit.first_user'));
		SELECT COUNT(*) INTO other_users FROM {schema}.users WHERE id <> NEW.id;
	END IF;

	IF other_users = 0 THEN
		role_name := 'Owner';
		` + elevate + `
		RAISE NOTICE 'phoenix_kit: first user % elevated to Owner', NEW.email;
	ELSE
		role_name := 'User';
	END IF;

	SELECT id INTO role_row_id FROM {schema}.roles WHERE name = role_name;
	IF role_row_id IS NULL THEN
		RAISE EXCEPTION 'phoenix_kit: system role % is missing', role_name;
	END IF;

	BEGIN
		INSERT INTO {schema}.role_assignments (user_id, role_id, is_active)
		VALUES (NEW.id, role_row_id, TRUE)
		ON CONFLICT (user_id, role_id) DO NOTHING;
	EXCEPTION WHEN OTHERS THEN
		RAISE WARNING 'phoenix_kit: role assignment for user % failed: %', NEW.id, SQLERRM;
	END;

	RETURN NULL;
END;
$fn$ LANGUAGE plpgsql;
`
}

func (stepV01) Up(ctx context.Context, tx *sql.Tx, prefix string) error {
	return execAll(ctx, tx, prefix, []string{
		`CREATE EXTENSION IF NOT EXISTS citext`,

		`CREATE TABLE IF NOT EXISTS {schema}.users (
			id BIGSERIAL PRIMARY KEY,
			email CITEXT NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			confirmed_at TIMESTAMP(0),
			role VARCHAR(50) NOT NULL DEFAULT 'user'
				CONSTRAINT users_role_check CHECK (role IN ('user', 'moderator', 'admin')),
			inserted_at TIMESTAMP(0) NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP(0) NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_index ON {schema}.users (email)`,

		`CREATE TABLE IF NOT EXISTS {schema}.users_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES {schema}.users(id) ON DELETE CASCADE,
			token BYTEA NOT NULL,
			context VARCHAR(255) NOT NULL,
			sent_to VARCHAR(255),
			inserted_at TIMESTAMP(0) NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS users_tokens_user_id_index ON {schema}.users_tokens (user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_tokens_context_token_index ON {schema}.users_tokens (context, token)`,

		`CREATE TABLE IF NOT EXISTS {schema}.roles (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at TIMESTAMP(0) NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS roles_name_index ON {schema}.roles (name)`,

		`CREATE TABLE IF NOT EXISTS {schema}.role_assignments (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES {schema}.users(id) ON DELETE CASCADE,
			role_id BIGINT NOT NULL REFERENCES {schema}.roles(id) ON DELETE CASCADE,
			assigned_by BIGINT REFERENCES {schema}.users(id) ON DELETE SET NULL,
			assigned_at TIMESTAMP(0) NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			CONSTRAINT role_assignments_user_role_unique UNIQUE (user_id, role_id)
		)`,
		`CREATE INDEX IF NOT EXISTS role_assignments_role_id_index ON {schema}.role_assignments (role_id)`,

		`INSERT INTO {schema}.roles (name, description, is_system_role) VALUES
			('Owner', 'Top-tier role; at least one active holder must exist', TRUE),
			('Admin', 'Administrative access', TRUE),
			('User', 'Default role for new accounts', TRUE)
		ON CONFLICT (name) DO NOTHING`,

		assignRoleFunctionSQL(false),

		`DROP TRIGGER IF EXISTS users_assign_role_trigger ON {schema}.users`,
		`CREATE TRIGGER users_assign_role_trigger
			AFTER INSERT ON {schema}.users
			FOR EACH ROW EXECUTE FUNCTION {schema}.phoenix_kit_assign_role()`,
	})
}

func (stepV01) Down(ctx context.Context, tx *sql.Tx, prefix string) error {
	// children before parents. Dropping users takes its trigger with
	// it, so the function goes last once nothing depends on it.
	return execAll(ctx, tx, prefix, []string{
		`DROP TABLE IF EXISTS {schema}.role_assignments`,
		`DROP TABLE IF EXISTS {schema}.roles`,
		`DROP TABLE IF EXISTS {schema}.users_tokens`,
		`DROP TABLE IF EXISTS {schema}.users`,
		`DROP FUNCTION IF EXISTS {schema}.phoenix_kit_assign_role()`,
	})
}
