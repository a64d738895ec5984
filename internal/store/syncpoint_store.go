package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// SyncPointStore backs syncpoint.Store with the sync_point table,
// the CAS primitive the rendezvous mechanism is built on (spec §4.1,
// §6).
type SyncPointStore struct {
	db *DB
}

func NewSyncPointStore(db *DB) *SyncPointStore { return &SyncPointStore{db: db} }

var _ syncpoint.Store = (*SyncPointStore)(nil)

func (s *SyncPointStore) Create(ctx context.Context, entityID string, traversalID string, isUpdate bool, stackID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_point (entity_id, traversal_id, is_update, stack_id, atomic_key, input_data, extra_data)
		VALUES ($1, $2, $3, $4, 0, '{}', '{}')
		ON CONFLICT (entity_id, traversal_id, is_update) DO NOTHING`,
		entityID, traversalID, isUpdate, stackID)
	return err
}

type syncPointRow struct {
	EntityID    string `db:"entity_id"`
	TraversalID string `db:"traversal_id"`
	IsUpdate    bool   `db:"is_update"`
	StackID     string `db:"stack_id"`
	AtomicKey   int64  `db:"atomic_key"`
	InputData   []byte `db:"input_data"`
	ExtraData   []byte `db:"extra_data"`
}

func (s *SyncPointStore) Get(ctx context.Context, entityID string, traversalID string, isUpdate bool) (*model.SyncPoint, error) {
	var row syncPointRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM sync_point WHERE entity_id = $1 AND traversal_id = $2 AND is_update = $3`,
		entityID, traversalID, isUpdate)
	if err == sql.ErrNoRows {
		return nil, &convergeerr.NotFound{Kind: convergeerr.EntitySyncPoint, Key: syncpoint.SenderKey{EntityID: entityID, IsUpdate: isUpdate}.String()}
	}
	if err != nil {
		return nil, err
	}

	inputData := map[string]interface{}{}
	if len(row.InputData) > 0 {
		if err := json.Unmarshal(row.InputData, &inputData); err != nil {
			return nil, err
		}
	}
	var extra model.ExtraData
	if len(row.ExtraData) > 0 {
		if err := json.Unmarshal(row.ExtraData, &extra); err != nil {
			return nil, err
		}
	}

	return &model.SyncPoint{
		EntityID:    row.EntityID,
		TraversalID: row.TraversalID,
		IsUpdate:    row.IsUpdate,
		StackID:     row.StackID,
		AtomicKey:   row.AtomicKey,
		InputData:   inputData,
		ExtraData:   extra,
	}, nil
}

func (s *SyncPointStore) DeleteAll(ctx context.Context, stackID, traversalID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_point WHERE stack_id = $1 AND traversal_id = $2`, stackID, traversalID)
	return err
}

func (s *SyncPointStore) UpdateInputData(ctx context.Context, entityID string, traversalID string, isUpdate bool,
	expectedAtomicKey int64, inputData map[string]interface{}, extraData *model.ExtraData) (int, error) {

	inputJSON, err := json.Marshal(inputData)
	if err != nil {
		return 0, err
	}
	extraJSON, err := json.Marshal(extraData)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_point
		SET input_data = $1, extra_data = $2, atomic_key = atomic_key + 1
		WHERE entity_id = $3 AND traversal_id = $4 AND is_update = $5 AND atomic_key = $6`,
		inputJSON, extraJSON, entityID, traversalID, isUpdate, expectedAtomicKey)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
