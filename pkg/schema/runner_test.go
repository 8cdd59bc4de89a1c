package schema

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStep executes one recognizable statement per direction so tests
// can assert batch ordering without real DDL.
type fakeStep struct {
	version int
	upSQL   string
	downSQL string
	upErr   error
}

func (s fakeStep) Version() int        { return s.version }
func (s fakeStep) Description() string { return "fake step" }

func (s fakeStep) Up(ctx context.Context, tx *sql.Tx, prefix string) error {
	if s.upErr != nil {
		return s.upErr
	}
	_, err := tx.ExecContext(ctx, s.upSQL)
	return err
}

func (s fakeStep) Down(ctx context.Context, tx *sql.Tx, prefix string) error {
	_, err := tx.ExecContext(ctx, s.downSQL)
	return err
}

func expectVersionRead(mock sqlmock.Sqlmock, comment string, installed bool) {
	rows := sqlmock.NewRows([]string{"comment"})
	if installed {
		rows.AddRow(comment)
	}
	q := mock.ExpectQuery("obj_description")
	if installed {
		q.WillReturnRows(rows)
	} else {
		q.WillReturnError(sql.ErrNoRows)
	}
}

func TestRunnerMigrateFromEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	steps := []Step{
		fakeStep{version: 1, upSQL: "CREATE TABLE step_one ()"},
		fakeStep{version: 2, upSQL: "CREATE TABLE step_two ()"},
	}
	runner := NewRunner(db, "public", WithSteps(steps))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "", false)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public".phoenix_kit`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE step_one").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE step_two").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`COMMENT ON TABLE "public".phoenix_kit IS '2'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, runner.Migrate(context.Background(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerMigrateResumesFromInstalled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	steps := []Step{
		fakeStep{version: 1, upSQL: "CREATE TABLE step_one ()"},
		fakeStep{version: 2, upSQL: "CREATE TABLE step_two ()"},
		fakeStep{version: 3, upSQL: "CREATE TABLE step_three ()"},
	}
	runner := NewRunner(db, "public", WithSteps(steps))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "2", true)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public".phoenix_kit`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE step_three").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`COMMENT ON TABLE "public".phoenix_kit IS '3'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, runner.Migrate(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerMigrateNoOpWhenCurrent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewRunner(db, "public", WithSteps([]Step{
		fakeStep{version: 1, upSQL: "CREATE TABLE step_one ()"},
	}))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "1", true)
	mock.ExpectCommit()

	require.NoError(t, runner.Migrate(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerMigrateMissingStep(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// gap at version 2
	runner := NewRunner(db, "public", WithSteps([]Step{
		fakeStep{version: 1, upSQL: "CREATE TABLE step_one ()"},
		fakeStep{version: 3, upSQL: "CREATE TABLE step_three ()"},
	}))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "", false)
	mock.ExpectRollback()

	err = runner.Migrate(context.Background(), 3)
	require.Error(t, err)

	var missing *MissingStepError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 2, missing.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerMigrateStepFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("relation already borked")
	runner := NewRunner(db, "public", WithSteps([]Step{
		fakeStep{version: 1, upSQL: "CREATE TABLE step_one ()"},
		fakeStep{version: 2, upErr: boom},
	}))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "", false)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public".phoenix_kit`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE step_one").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = runner.Migrate(context.Background(), 2)
	require.Error(t, err)

	var merr *MigrationError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 2, merr.Version)
	assert.Equal(t, "up", merr.Direction)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerRollbackToZeroDropsSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewRunner(db, "public", WithSteps([]Step{
		fakeStep{version: 1, downSQL: "DROP TABLE step_one"},
		fakeStep{version: 2, downSQL: "DROP TABLE step_two"},
	}))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "2", true)
	mock.ExpectExec("DROP TABLE step_two").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE step_one").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "public".phoenix_kit`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, runner.Rollback(context.Background(), 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerRollbackPartial(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewRunner(db, "public", WithSteps([]Step{
		fakeStep{version: 1, downSQL: "DROP TABLE step_one"},
		fakeStep{version: 2, downSQL: "DROP TABLE step_two"},
		fakeStep{version: 3, downSQL: "DROP TABLE step_three"},
	}))

	// target step 1 itself is not undone
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionRead(mock, "3", true)
	mock.ExpectExec("DROP TABLE step_three").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE step_two").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`COMMENT ON TABLE "public".phoenix_kit IS '1'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, runner.Rollback(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	runner := NewRunner(db, "public")

	expectVersionRead(mock, "4", true)

	installed, latest, err := runner.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, installed)
	assert.Equal(t, LatestVersion, latest)
	assert.NoError(t, mock.ExpectationsWereMet())
}
