package history

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})
	return store, mock
}

func runRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "run_id", "patient_id", "rule_id", "result", "recoverable",
		"evaluation", "rules_version", "evaluated_at",
	})
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	store, err := NewPostgresStore(nil)

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO evaluation_runs").
		WithArgs("run-1", "patient-1", "A", "WARN", true, sqlmock.AnyArg(), int64(2), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	run := NewRun("run-1", "patient-1", "A", domain.RecoverableWarn("borderline"), 2, baseTime)

	// Act
	err := store.Save(context.Background(), run)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(7), run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Error(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO evaluation_runs").
		WillReturnError(errors.New("duplicate key value violates unique constraint"))

	err := store.Save(context.Background(), NewRun("run-1", "patient-1", "A", domain.Pass(), 1, baseTime))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Validation(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Save(context.Background(), &Run{RunID: "run-1"})

	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query should be issued")
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM evaluation_runs WHERE run_id").
		WithArgs("run-1", "A").
		WillReturnRows(runRows().AddRow(
			int64(7), "run-1", "patient-1", "A", "FAIL", false,
			[]byte(`{"result":"FAIL","recoverable":false,"fail_messages":[{"text":"prior lines","origin":"A"}]}`),
			int64(4), baseTime,
		))

	// Act
	run, err := store.Get(context.Background(), "run-1", "A")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, int64(7), run.ID)
	assert.Equal(t, domain.FAIL, run.Result)
	assert.Equal(t, int64(4), run.RulesVersion)
	require.Len(t, run.Evaluation.FailMessages, 1)
	assert.Equal(t, "A: prior lines", run.Evaluation.FailMessages[0].String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM evaluation_runs WHERE run_id").
		WithArgs("missing", "A").
		WillReturnRows(runRows())

	run, err := store.Get(context.Background(), "missing", "A")

	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByPatient(t *testing.T) {
	store, mock := newMockStore(t)

	eval := []byte(`{"result":"PASS","recoverable":false}`)
	mock.ExpectQuery("SELECT (.+) FROM evaluation_runs WHERE patient_id = \\$1 ORDER BY").
		WithArgs("patient-1", 10, 0).
		WillReturnRows(runRows().
			AddRow(int64(2), "run-2", "patient-1", "A", "PASS", false, eval, int64(1), baseTime).
			AddRow(int64(1), "run-1", "patient-1", "A", "PASS", false, eval, int64(1), baseTime))

	// Act
	runs, err := store.ListByPatient(context.Background(), "patient-1", 10, 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAndDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM evaluation_runs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec("DELETE FROM evaluation_runs WHERE id").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.Delete(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
