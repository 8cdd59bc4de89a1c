package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionToken(t *testing.T) {
	token, digest, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, digest, 32)
	assert.Equal(t, digest, HashToken(token))

	// two tokens never collide
	other, _, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestTokenStoreCreateSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO "public".users_tokens`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewTokenStore(db, "public", 0, nil)
	token, err := store.CreateSession(context.Background(), 42)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStoreVerifySession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewTokenStore(db, "public", time.Hour, nil)

	mock.ExpectQuery(`SELECT t.user_id`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(42)))

	userID, err := store.VerifySession(context.Background(), "some-token")
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	mock.ExpectQuery(`SELECT t.user_id`).WillReturnError(sql.ErrNoRows)

	_, err = store.VerifySession(context.Background(), "expired-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStorePurgeExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM "public".users_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	store := NewTokenStore(db, "public", time.Hour, nil)
	purged, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
