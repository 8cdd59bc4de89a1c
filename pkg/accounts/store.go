package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// Store handles account and role-assignment persistence for one
// namespace prefix.
type Store struct {
	db      *sql.DB
	prefix  string
	log     *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(log *observability.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics sets the store's metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an account store scoped to a namespace prefix
func NewStore(db *sql.DB, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "public"
	}
	s := &Store{
		db:     db,
		prefix: prefix,
		log:    observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// table qualifies a table name with the store's namespace
func (s *Store) table(name string) string {
	return pq.QuoteIdentifier(s.prefix) + "." + name
}

const accountColumns = "id, email, hashed_password, confirmed_at, role, roles2, is_active, inserted_at, updated_at"

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.HashedPassword,
		&a.ConfirmedAt,
		&a.Role,
		&a.SecondaryRole,
		&a.IsActive,
		&a.InsertedAt,
		&a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}

// Register creates a new account and reports what the first-user
// elevation trigger decided for it. The trigger runs inside the INSERT's
// transaction, so reading the row back afterwards observes its outcome.
func (s *Store) Register(ctx context.Context, email, hashedPassword string) (*RegistrationResult, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (email, hashed_password, inserted_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id
	`, s.table("users"))

	var id int64
	err := s.db.QueryRowContext(ctx, query, email, hashedPassword).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if s.metrics != nil {
				s.metrics.RegistrationsTotal.WithLabelValues("email_taken").Inc()
			}
			return nil, ErrEmailTaken
		}
		if s.metrics != nil {
			s.metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &RegistrationResult{Account: account}

	var assignments int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = $1`, s.table("role_assignments"))
	if err := s.db.QueryRowContext(ctx, countQuery, id).Scan(&assignments); err != nil {
		return nil, fmt.Errorf("failed to inspect role assignments: %w", err)
	}
	if assignments == 0 {
		// the trigger degraded an assignment failure to a warning; the
		// account exists but needs operator attention
		result.AssignmentFlagged = true
		s.log.WithFields(map[string]interface{}{
			"user_id": id,
			"email":   email,
		}).Warn("account created without a role assignment")
	}

	ownerQuery := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s ra
			JOIN %s r ON r.id = ra.role_id
			WHERE ra.user_id = $1 AND r.name = $2 AND ra.is_active
		)
	`, s.table("role_assignments"), s.table("roles"))
	if err := s.db.QueryRowContext(ctx, ownerQuery, id, RoleOwner).Scan(&result.ElevatedToOwner); err != nil {
		return nil, fmt.Errorf("failed to inspect owner assignment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RegistrationsTotal.WithLabelValues("created").Inc()
		decision := "default"
		if result.ElevatedToOwner {
			decision = "elevated"
		}
		s.metrics.ElevationDecisionsTotal.WithLabelValues(decision).Inc()
	}
	return result, nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, accountColumns, s.table("users"))
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// GetAccountByEmail retrieves an account by its email address. The
// email column is citext, so the lookup is case-insensitive.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1`, accountColumns, s.table("users"))
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

// ListRoles returns all roles, system roles first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := fmt.Sprintf(`
		SELECT id, name, COALESCE(description, ''), is_system_role, inserted_at
		FROM %s
		ORDER BY is_system_role DESC, name
	`, s.table("roles"))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystemRole, &r.InsertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := fmt.Sprintf(`
		SELECT id, name, COALESCE(description, ''), is_system_role, inserted_at
		FROM %s WHERE name = $1
	`, s.table("roles"))

	var r Role
	err := s.db.QueryRowContext(ctx, query, name).Scan(&r.ID, &r.Name, &r.Description, &r.IsSystemRole, &r.InsertedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

// ListAssignments returns all assignments for an account, active and
// inactive
func (s *Store) ListAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	query := fmt.Sprintf(`
		SELECT ra.id, ra.user_id, ra.role_id, r.name, ra.assigned_by, ra.assigned_at, ra.is_active
		FROM %s ra
		JOIN %s r ON r.id = ra.role_id
		WHERE ra.user_id = $1
		ORDER BY ra.assigned_at
	`, s.table("role_assignments"), s.table("roles"))

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &a.AssignedBy, &a.AssignedAt, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CountActiveOwners counts accounts that are active and hold an active
// Owner assignment.
func (s *Store) CountActiveOwners(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s ra
		JOIN %s r ON r.id = ra.role_id
		JOIN %s u ON u.id = ra.user_id
		WHERE r.name = $1 AND ra.is_active AND u.is_active
	`, s.table("role_assignments"), s.table("roles"), s.table("users"))

	var count int
	if err := s.db.QueryRowContext(ctx, query, RoleOwner).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return count, nil
}

// AssignRole grants a role to an account, reactivating a previously
// revoked assignment if one exists.
func (s *Store) AssignRole(ctx context.Context, userID int64, roleName string, assignedBy *int64) error {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, role_id, assigned_by, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id, role_id)
		DO UPDATE SET is_active = TRUE, assigned_by = EXCLUDED.assigned_by, assigned_at = NOW()
	`, s.table("role_assignments"))

	if _, err := s.db.ExecContext(ctx, query, userID, role.ID, assignedBy); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// holdsActiveOwner reports whether the user currently has an active
// Owner assignment, read inside the caller's transaction.
func (s *Store) holdsActiveOwner(ctx context.Context, tx *sql.Tx, userID int64) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s ra
			JOIN %s r ON r.id = ra.role_id
			WHERE ra.user_id = $1 AND r.name = $2 AND ra.is_active
		)
	`, s.table("role_assignments"), s.table("roles"))

	var holds bool
	if err := tx.QueryRowContext(ctx, query, userID, RoleOwner).Scan(&holds); err != nil {
		return false, fmt.Errorf("failed to inspect owner assignment: %w", err)
	}
	return holds, nil
}

// guardLastOwner locks the active Owner rows and fails with
// ErrOwnerInvariant if no active owner other than userID would remain.
// Must run inside the transaction that performs the mutation so the
// count cannot go stale before commit. Both the assignment and the
// users rows are locked: under READ COMMITTED a blocked rival
// re-evaluates only locked relations against their committed state, so
// leaving users unlocked would let a concurrent account deactivation
// count a just-deactivated user as a live owner.
func (s *Store) guardLastOwner(ctx context.Context, tx *sql.Tx, userID int64) error {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM (
			SELECT ra.user_id
			FROM %s ra
			JOIN %s r ON r.id = ra.role_id
			JOIN %s u ON u.id = ra.user_id
			WHERE r.name = $1 AND ra.is_active AND u.is_active
			FOR UPDATE OF ra, u
		) owners
		WHERE owners.user_id <> $2
	`, s.table("role_assignments"), s.table("roles"), s.table("users"))

	var others int
	if err := tx.QueryRowContext(ctx, query, RoleOwner, userID).Scan(&others); err != nil {
		return fmt.Errorf("failed to check owner invariant: %w", err)
	}
	if others == 0 {
		if s.metrics != nil {
			s.metrics.OwnerGuardRejections.Inc()
		}
		return ErrOwnerInvariant
	}
	return nil
}

// RevokeRole removes a role assignment entirely. Revoking the Owner
// role is rejected when it would leave no active owner; an assignment
// that is already inactive cannot change the active-owner count and is
// removable regardless.
func (s *Store) RevokeRole(ctx context.Context, userID int64, roleName string) error {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if roleName == RoleOwner {
		holds, err := s.holdsActiveOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		if holds {
			if err := s.guardLastOwner(ctx, tx, userID); err != nil {
				return err
			}
		}
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND role_id = $2`, s.table("role_assignments"))
	if _, err := tx.ExecContext(ctx, query, userID, role.ID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return tx.Commit()
}

// DeactivateAssignment soft-revokes a role assignment, keeping the row
// for history. Subject to the same owner protection as RevokeRole.
func (s *Store) DeactivateAssignment(ctx context.Context, userID int64, roleName string) error {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if roleName == RoleOwner {
		holds, err := s.holdsActiveOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		if holds {
			if err := s.guardLastOwner(ctx, tx, userID); err != nil {
				return err
			}
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s SET is_active = FALSE WHERE user_id = $1 AND role_id = $2
	`, s.table("role_assignments"))
	if _, err := tx.ExecContext(ctx, query, userID, role.ID); err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	return tx.Commit()
}

// DeactivateAccount disables an account. An account holding the last
// active Owner assignment cannot be deactivated.
func (s *Store) DeactivateAccount(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	holds, err := s.holdsActiveOwner(ctx, tx, userID)
	if err != nil {
		return err
	}
	if holds {
		if err := s.guardLastOwner(ctx, tx, userID); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`UPDATE %s SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, s.table("users"))
	res, err := tx.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return tx.Commit()
}

// ActivateAccount re-enables a previously deactivated account
func (s *Store) ActivateAccount(ctx context.Context, userID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, s.table("users"))
	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetPrimaryRole updates the coarse role column on the users row
func (s *Store) SetPrimaryRole(ctx context.Context, userID int64, role PrimaryRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	query := fmt.Sprintf(`UPDATE %s SET role = $1, updated_at = NOW() WHERE id = $2`, s.table("users"))
	res, err := s.db.ExecContext(ctx, query, role, userID)
	if err != nil {
		return fmt.Errorf("failed to set primary role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetSecondaryRole updates the roles2 tier. Demoting the last account
// with the owner tier is rejected, mirroring the assignment-level
// protection.
func (s *Store) SetSecondaryRole(ctx context.Context, userID int64, role SecondaryRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if role != SecondaryOwner {
		guardQuery := fmt.Sprintf(`
			SELECT COUNT(*)
			FROM (
				SELECT id FROM %s
				WHERE roles2 = $1 AND is_active
				FOR UPDATE
			) owners
			WHERE owners.id <> $2
		`, s.table("users"))

		var current SecondaryRole
		currentQuery := fmt.Sprintf(`SELECT roles2 FROM %s WHERE id = $1`, s.table("users"))
		if err := tx.QueryRowContext(ctx, currentQuery, userID).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return ErrAccountNotFound
			}
			return fmt.Errorf("failed to read current role: %w", err)
		}

		if current == SecondaryOwner {
			var others int
			if err := tx.QueryRowContext(ctx, guardQuery, SecondaryOwner, userID).Scan(&others); err != nil {
				return fmt.Errorf("failed to check owner invariant: %w", err)
			}
			if others == 0 {
				if s.metrics != nil {
					s.metrics.OwnerGuardRejections.Inc()
				}
				return ErrOwnerInvariant
			}
		}
	}

	query := fmt.Sprintf(`UPDATE %s SET roles2 = $1, updated_at = NOW() WHERE id = $2`, s.table("users"))
	res, err := tx.ExecContext(ctx, query, role, userID)
	if err != nil {
		return fmt.Errorf("failed to set secondary role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return tx.Commit()
}

// ConfirmAccount stamps confirmed_at if not already set
func (s *Store) ConfirmAccount(ctx context.Context, userID int64) error {
	query := fmt.Sprintf(`
		UPDATE %s SET confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND confirmed_at IS NULL
	`, s.table("users"))
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to confirm account: %w", err)
	}
	return nil
}
