package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLockInspector_CurrentLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	resources := NewResourceStore(&DB{DB: sqlxDB})
	inspector := NewResourceLockInspector(resources)

	rows := sqlmock.NewRows([]string{
		"id", "stack_id", "name", "type", "action", "status", "status_reason",
		"current_template_id", "engine_id", "replaces", "replaced_by", "requires",
		"attributes", "reference_id", "uuid",
	}).AddRow(1, "stack-1", "web", "Compute::Instance", "UPDATE", "IN_PROGRESS", "",
		4, "engine-a", 0, 0, "{}", []byte(`{}`), "ref-1", "uuid-1")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM resource WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	engineID, templateID, err := inspector.CurrentLock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "engine-a", engineID)
	assert.Equal(t, int64(4), templateID)
}

func TestResourceLockInspector_StealLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sqlxDB := sqlx.NewDb(db, "postgres")
	resources := NewResourceStore(&DB{DB: sqlxDB})
	inspector := NewResourceLockInspector(resources)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resource SET engine_id = $1 WHERE id = $2`)).
		WithArgs("", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, inspector.StealLock(context.Background(), 1))
}
