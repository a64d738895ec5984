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

func newMockStackStore(t *testing.T) (*StackStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStackStore(&DB{DB: sqlxDB}), mock
}

func TestStackStore_Get_found(t *testing.T) {
	store, mock := newMockStackStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "name", "action", "status", "status_reason", "current_traversal",
		"prev_raw_template_id", "raw_template_id", "disable_rollback", "timeout_mins", "convergence",
	}).AddRow("stack-1", "mystack", "UPDATE", "IN_PROGRESS", "", "t1", 1, 2, false, 60, true)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM stack WHERE id = $1`)).
		WithArgs("stack-1").
		WillReturnRows(rows)

	stack, err := store.Get(context.Background(), "stack-1")
	require.NoError(t, err)
	assert.Equal(t, "stack-1", stack.ID)
	assert.Equal(t, model.ActionUpdate, stack.Action)
	assert.Equal(t, "t1", stack.CurrentTraversal)
}

func TestStackStore_Get_notFound(t *testing.T) {
	store, mock := newMockStackStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM stack WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	var nf *convergeerr.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestStackStore_MarkTerminal_succeedsOnMatchingTraversal(t *testing.T) {
	store, mock := newMockStackStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE stack SET action = $1, status = $2, status_reason = $3`)).
		WithArgs("UPDATE", "FAILED", "boom", "stack-1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	handled, err := store.MarkTerminal(context.Background(), "stack-1", "t1", model.ActionUpdate, model.StatusFailed, "boom")
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestStackStore_MarkTerminal_noopOnStaleTraversal(t *testing.T) {
	store, mock := newMockStackStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE stack SET action = $1, status = $2, status_reason = $3`)).
		WithArgs("UPDATE", "FAILED", "boom", "stack-1", "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))

	handled, err := store.MarkTerminal(context.Background(), "stack-1", "stale", model.ActionUpdate, model.StatusFailed, "boom")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestStackStore_SelectAndUpdate_casOnTraversal(t *testing.T) {
	store, mock := newMockStackStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE stack SET current_traversal = $1 WHERE id = $2 AND current_traversal = $3`)).
		WithArgs("t2", "stack-1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.SelectAndUpdate(context.Background(), "stack-1", "t2", "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}
