//go:build integration

package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phoenixkit/phoenixkit/pkg/schema"
)

func setupProvisionedDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("accounts_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, schema.NewRunner(db, "public").Migrate(ctx, schema.LatestVersion))

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestRegistrationElevation(t *testing.T) {
	db, cleanup := setupProvisionedDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db, "public")

	first, err := store.Register(ctx, "first@example.com", "hash-one")
	require.NoError(t, err)
	assert.True(t, first.ElevatedToOwner)
	assert.False(t, first.AssignmentFlagged)
	assert.Equal(t, PrimaryAdmin, first.Account.Role)
	assert.Equal(t, SecondaryOwner, first.Account.SecondaryRole)

	second, err := store.Register(ctx, "second@example.com", "hash-two")
	require.NoError(t, err)
	assert.False(t, second.ElevatedToOwner)
	assert.Equal(t, PrimaryUser, second.Account.Role)
	assert.Equal(t, SecondaryGuest, second.Account.SecondaryRole)

	owners, err := store.CountActiveOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)

	// email uniqueness is case-insensitive
	_, err = store.Register(ctx, "FIRST@example.com", "hash-three")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestConcurrentFirstRegistrations(t *testing.T) {
	db, cleanup := setupProvisionedDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db, "public")

	const registrants = 8
	results := make(chan *RegistrationResult, registrants)
	errs := make(chan error, registrants)

	for i := 0; i < registrants; i++ {
		go func(n int) {
			result, err := store.Register(ctx, fmt.Sprintf("user%d@example.com", n), "hash")
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}(i)
	}

	elevated := 0
	for i := 0; i < registrants; i++ {
		select {
		case result := <-results:
			if result.ElevatedToOwner {
				elevated++
			}
		case err := <-errs:
			t.Fatalf("registration failed: %v", err)
		}
	}
	assert.Equal(t, 1, elevated, "exactly one registrant becomes Owner")

	owners, err := store.CountActiveOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)
}

func TestConcurrentOwnerDeactivations(t *testing.T) {
	db, cleanup := setupProvisionedDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db, "public")

	first, err := store.Register(ctx, "owner-a@example.com", "hash")
	require.NoError(t, err)
	second, err := store.Register(ctx, "owner-b@example.com", "hash")
	require.NoError(t, err)

	ids := []int64{first.Account.ID, second.Account.ID}
	require.NoError(t, store.AssignRole(ctx, ids[1], RoleOwner, &ids[0]))

	// both owners race to deactivate their accounts; the guard locks
	// the users rows too, so the loser must observe the winner's commit
	// and reject rather than let the owner count reach zero
	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(userID int64) {
			errs <- store.DeactivateAccount(ctx, userID)
		}(id)
	}

	succeeded, rejected := 0, 0
	for range ids {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOwnerInvariant):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	owners, err := store.CountActiveOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, owners, "an active owner must always remain")
}

func TestOwnerGuardEndToEnd(t *testing.T) {
	db, cleanup := setupProvisionedDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(db, "public")

	first, err := store.Register(ctx, "owner@example.com", "hash")
	require.NoError(t, err)
	ownerID := first.Account.ID

	second, err := store.Register(ctx, "other@example.com", "hash")
	require.NoError(t, err)
	otherID := second.Account.ID

	// the sole owner is protected from every removal path
	assert.ErrorIs(t, store.RevokeRole(ctx, ownerID, RoleOwner), ErrOwnerInvariant)
	assert.ErrorIs(t, store.DeactivateAssignment(ctx, ownerID, RoleOwner), ErrOwnerInvariant)
	assert.ErrorIs(t, store.DeactivateAccount(ctx, ownerID), ErrOwnerInvariant)
	assert.ErrorIs(t, store.SetSecondaryRole(ctx, ownerID, SecondaryMember), ErrOwnerInvariant)

	// with a second owner in place the original can step down
	require.NoError(t, store.AssignRole(ctx, otherID, RoleOwner, &ownerID))
	require.NoError(t, store.SetSecondaryRole(ctx, otherID, SecondaryOwner))

	require.NoError(t, store.RevokeRole(ctx, ownerID, RoleOwner))
	require.NoError(t, store.SetSecondaryRole(ctx, ownerID, SecondaryMember))

	owners, err := store.CountActiveOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)

	// and the remaining owner is now the protected one
	assert.ErrorIs(t, store.DeactivateAccount(ctx, otherID), ErrOwnerInvariant)
}
