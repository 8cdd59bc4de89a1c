package settings

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "public")

	mock.ExpectQuery(`SELECT value FROM "public".settings`).WithArgs("site_title").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("PhoenixKit"))

	value, ok, err := store.Get(context.Background(), "site_title")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PhoenixKit", value)

	mock.ExpectQuery(`SELECT value FROM "public".settings`).WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok, err = store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "public")

	mock.ExpectQuery(`SELECT value`).WithArgs("theme").WillReturnError(sql.ErrNoRows)

	value, err := store.GetDefault(context.Background(), "theme", "light")
	require.NoError(t, err)
	assert.Equal(t, "light", value)
}

func TestSetUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "tenant_a")

	mock.ExpectExec(`INSERT INTO "tenant_a".settings`).
		WithArgs("site_title", "My App").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "site_title", "My App"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "public")

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("site_title", "PhoenixKit").
		AddRow("theme", "dark")
	mock.ExpectQuery(`SELECT key, value`).WillReturnRows(rows)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"site_title": "PhoenixKit", "theme": "dark"}, all)
}
