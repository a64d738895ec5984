package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
)

func newMockResourceStore(t *testing.T) (*ResourceStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewResourceStore(&DB{DB: sqlxDB}), mock
}

func TestResourceStore_GetObj_found(t *testing.T) {
	store, mock := newMockResourceStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "stack_id", "name", "type", "action", "status", "status_reason",
		"current_template_id", "engine_id", "replaces", "replaced_by", "requires",
		"attributes", "reference_id", "uuid",
	}).AddRow(1, "stack-1", "web", "Compute::Instance", "CREATE", "COMPLETE", "",
		3, "", 0, 0, "{}", []byte(`{}`), "ref-1", "uuid-1")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM resource WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	rsrc, err := store.GetObj(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rsrc.ID)
	assert.Equal(t, "web", rsrc.Name)
	assert.Equal(t, model.ActionCreate, rsrc.Action)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceStore_GetObj_notFound(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM resource WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetObj(context.Background(), 99, true)
	require.Error(t, err)
	var nf *convergeerr.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestResourceStore_UpdateAndSave_success(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET status = $1 WHERE id = $2`)).
		WithArgs("COMPLETE", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateAndSave(context.Background(), 5, map[string]interface{}{"status": "COMPLETE"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceStore_UpdateAndSave_noRowsIsNotFound(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET status = $1 WHERE id = $2`)).
		WithArgs("COMPLETE", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateAndSave(context.Background(), 5, map[string]interface{}{"status": "COMPLETE"})
	require.Error(t, err)
	var nf *convergeerr.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestResourceStore_AcquireLock_succeedsWhenUnlocked(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET engine_id = $1 WHERE id = $2 AND (engine_id = '' OR engine_id = $3)`)).
		WithArgs("engine-a", int64(1), "engine-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.AcquireLock(context.Background(), 1, "engine-a", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResourceStore_AcquireLock_failsWhenLockedByOther(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET engine_id = $1 WHERE id = $2 AND (engine_id = '' OR engine_id = $3)`)).
		WithArgs("engine-a", int64(1), "engine-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.AcquireLock(context.Background(), 1, "engine-a", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResourceStore_SelectAndUpdate_casSuccess(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET engine_id = $1 WHERE id = $2 AND engine_id = $3`)).
		WithArgs("", int64(1), "engine-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.SelectAndUpdate(context.Background(), 1, map[string]interface{}{"engine_id": ""}, "engine-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResourceStore_EnginesLockedByStack(t *testing.T) {
	store, mock := newMockResourceStore(t)

	rows := sqlmock.NewRows([]string{"engine_id"}).AddRow("engine-a").AddRow("engine-b")
	mock.ExpectQuery(`SELECT DISTINCT engine_id FROM resource`).
		WithArgs("stack-1").
		WillReturnRows(rows)

	ids, err := store.EnginesLockedByStack(context.Background(), "stack-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"engine-a", "engine-b"}, ids)
}

func TestResourceStore_Create_returnsAssignedID(t *testing.T) {
	store, mock := newMockResourceStore(t)

	mock.ExpectQuery(`INSERT INTO resource`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.Create(context.Background(), &model.Resource{
		StackID: "stack-1", Name: "web", Type: "Compute::Instance",
		Action: model.ActionInit, Status: model.StatusInProgress,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
