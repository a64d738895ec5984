package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
)

// ResourceStore is the resource table's repository (spec §6):
// get_obj/update_and_save/select_and_update, all on a row keyed by id.
type ResourceStore struct {
	db *DB
}

func NewResourceStore(db *DB) *ResourceStore { return &ResourceStore{db: db} }

type resourceRow struct {
	ID                int64          `db:"id"`
	StackID           string         `db:"stack_id"`
	Name              string         `db:"name"`
	Type              string         `db:"type"`
	Action            string         `db:"action"`
	Status            string         `db:"status"`
	StatusReason      string         `db:"status_reason"`
	CurrentTemplateID int64          `db:"current_template_id"`
	EngineID          string         `db:"engine_id"`
	Replaces          int64          `db:"replaces"`
	ReplacedBy        int64          `db:"replaced_by"`
	Requires          pq.Int64Array  `db:"requires"`
	Attributes        []byte         `db:"attributes"`
	ReferenceID       string         `db:"reference_id"`
	UUID              string         `db:"uuid"`
}

func (r resourceRow) toModel() (*model.Resource, error) {
	attrs := map[string]interface{}{}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return nil, err
		}
	}
	return &model.Resource{
		ID:                r.ID,
		StackID:           r.StackID,
		Name:              r.Name,
		Type:              r.Type,
		Action:            model.Action(r.Action),
		Status:            model.Status(r.Status),
		StatusReason:      r.StatusReason,
		CurrentTemplateID: r.CurrentTemplateID,
		EngineID:          r.EngineID,
		Replaces:          r.Replaces,
		ReplacedBy:        r.ReplacedBy,
		Requires:          []int64(r.Requires),
		Attributes:        attrs,
		ReferenceID:       r.ReferenceID,
		UUID:              r.UUID,
	}, nil
}

// GetObj loads a resource row by id. refresh is accepted for parity with
// the spec's get_obj(id, refresh, fields) signature; this store always
// reads through to the database, so refresh is a no-op here.
func (s *ResourceStore) GetObj(ctx context.Context, id int64, refresh bool) (*model.Resource, error) {
	var row resourceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM resource WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, &convergeerr.NotFound{Kind: convergeerr.EntityResource, Key: itoa(id)}
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// UpdateAndSave applies an unconditional update to the named columns.
// Used for lock release and other writes that don't need a CAS guard
// (the CAS writes are AcquireLock, SelectAndUpdate and
// SelectAndUpdateTemplateID below).
func (s *ResourceStore) UpdateAndSave(ctx context.Context, id int64, values map[string]interface{}) error {
	set, args := buildSet(values, 1)
	args = append(args, id)
	query := `UPDATE resource SET ` + set + ` WHERE id = $` + itoa(int64(len(args)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, convergeerr.EntityResource, itoa(id))
}

// SelectAndUpdate performs a CAS write on engine_id: it succeeds only if
// the row's current engine_id matches expectedEngineID (NULL is
// represented as ""). Lock acquisition itself goes through AcquireLock
// below, and lock release through UpdateAndSave.
func (s *ResourceStore) SelectAndUpdate(ctx context.Context, id int64, values map[string]interface{}, expectedEngineID string) (bool, error) {
	set, args := buildSet(values, 1)
	args = append(args, id, expectedEngineID)
	query := `UPDATE resource SET ` + set +
		` WHERE id = $` + itoa(int64(len(args)-1)) +
		` AND engine_id = $` + itoa(int64(len(args)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SelectAndUpdateTemplateID performs a CAS write that additionally
// requires the row's current_template_id still equal expectedTemplateID.
// Nothing in this module calls it at present; the stale-lock handling
// does not go through it.
func (s *ResourceStore) SelectAndUpdateTemplateID(ctx context.Context, id int64, values map[string]interface{}, expectedTemplateID int64) (bool, error) {
	set, args := buildSet(values, 1)
	args = append(args, id, expectedTemplateID)
	query := `UPDATE resource SET ` + set +
		` WHERE id = $` + itoa(int64(len(args)-1)) +
		` AND current_template_id = $` + itoa(int64(len(args)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquireLock performs the lock-acquire CAS from spec §4.3: engine_id
// transitions from "" (NULL) or engineID itself to engineID, alongside
// whatever other columns the caller supplies.
func (s *ResourceStore) AcquireLock(ctx context.Context, id int64, engineID string, values map[string]interface{}) (bool, error) {
	merged := map[string]interface{}{"engine_id": engineID}
	for k, v := range values {
		merged[k] = v
	}
	set, args := buildSet(merged, 1)
	args = append(args, id, engineID)
	query := `UPDATE resource SET ` + set +
		` WHERE id = $` + itoa(int64(len(args)-1)) +
		` AND (engine_id = '' OR engine_id = $` + itoa(int64(len(args))) + `)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EnginesLockedByStack returns the distinct set of engine ids currently
// holding a lock on any resource of stackID, for stop_all_workers'
// fan-out (spec §4.5's engine_get_all_locked_by_stack).
func (s *ResourceStore) EnginesLockedByStack(ctx context.Context, stackID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT engine_id FROM resource
		WHERE stack_id = $1 AND engine_id != ''`, stackID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Create inserts a new resource row (used by make_replacement, spec
// §4.3.1) and returns its assigned id.
func (s *ResourceStore) Create(ctx context.Context, r *model.Resource) (int64, error) {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO resource (stack_id, name, type, action, status, status_reason,
			current_template_id, engine_id, replaces, replaced_by, requires,
			attributes, reference_id, uuid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		r.StackID, r.Name, r.Type, string(r.Action), string(r.Status), r.StatusReason,
		r.CurrentTemplateID, r.EngineID, r.Replaces, r.ReplacedBy,
		pq.Array(r.Requires), attrs, r.ReferenceID, r.UUID,
	).Scan(&id)
	return id, err
}
