package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
)

// StackStore is the stack table's repository (spec §6).
type StackStore struct {
	db *DB
}

func NewStackStore(db *DB) *StackStore { return &StackStore{db: db} }

type stackRow struct {
	ID                string `db:"id"`
	Name              string `db:"name"`
	Action            string `db:"action"`
	Status            string `db:"status"`
	StatusReason      string `db:"status_reason"`
	CurrentTraversal  string `db:"current_traversal"`
	PrevRawTemplateID int64  `db:"prev_raw_template_id"`
	RawTemplateID     int64  `db:"raw_template_id"`
	DisableRollback   bool   `db:"disable_rollback"`
	TimeoutMins       int    `db:"timeout_mins"`
	CreatedTime       time.Time `db:"created_time"`
	UpdatedTime       time.Time `db:"updated_time"`
	Convergence       bool   `db:"convergence"`
}

func (r stackRow) toModel() *model.Stack {
	return &model.Stack{
		ID:                r.ID,
		Name:              r.Name,
		Action:            model.Action(r.Action),
		Status:            model.Status(r.Status),
		StatusReason:      r.StatusReason,
		CurrentTraversal:  r.CurrentTraversal,
		PrevRawTemplateID: r.PrevRawTemplateID,
		RawTemplateID:     r.RawTemplateID,
		DisableRollback:   r.DisableRollback,
		TimeoutMins:       r.TimeoutMins,
		CreatedTime:       r.CreatedTime,
		UpdatedTime:       r.UpdatedTime,
		Convergence:       r.Convergence,
	}
}

// Get loads a stack row straight from the database on every call: there
// is no in-process cache, so every load is a fresh one and Get takes no
// force-reload parameter (unlike the teacher's
// parser.Stack.load(force_reload=...)).
func (s *StackStore) Get(ctx context.Context, id string) (*model.Stack, error) {
	var row stackRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM stack WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, &convergeerr.NotFound{Kind: convergeerr.EntityStack, Key: id}
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// UpdateStatus unconditionally writes action/status/status_reason, the
// terminal-state write every outcome in §4.3's table ends with.
func (s *StackStore) UpdateStatus(ctx context.Context, id string, action model.Action, status model.Status, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stack SET action = $1, status = $2, status_reason = $3 WHERE id = $4`,
		string(action), string(status), reason, id)
	return err
}

// MarkTerminal writes a terminal (action, status, reason) only if the
// stack's current_traversal still equals expectedTraversal, so a
// traversal that has already been superseded can't stomp on a newer
// one's state (spec §4.3's mark_failed/mark_complete "handled" return).
func (s *StackStore) MarkTerminal(ctx context.Context, id, expectedTraversal string, action model.Action, status model.Status, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stack SET action = $1, status = $2, status_reason = $3
		WHERE id = $4 AND current_traversal = $5`,
		string(action), string(status), reason, id, expectedTraversal)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SelectAndUpdate performs the stack-level CAS: current_traversal only
// advances if it still equals expectedTraversal (spec §5, "the per-stack
// current_traversal column is the stack-level lock"). Used by
// stop_traversal to bump the traversal id atomically.
func (s *StackStore) SelectAndUpdate(ctx context.Context, id string, newTraversal, expectedTraversal string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stack SET current_traversal = $1 WHERE id = $2 AND current_traversal = $3`,
		newTraversal, id, expectedTraversal)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
