package syncpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
)

// fakeStore is an in-memory Store that honors the CAS contract
// (UpdateInputData only succeeds when expectedAtomicKey matches).
type fakeStore struct {
	mu     sync.Mutex
	points map[string]*model.SyncPoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: map[string]*model.SyncPoint{}}
}

func (f *fakeStore) key(entityID, traversalID string, isUpdate bool) string {
	k := SenderKey{EntityID: entityID, IsUpdate: isUpdate}
	return traversalID + "/" + k.String()
}

func (f *fakeStore) Create(ctx context.Context, entityID, traversalID string, isUpdate bool, stackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(entityID, traversalID, isUpdate)
	if _, ok := f.points[k]; ok {
		return nil
	}
	f.points[k] = &model.SyncPoint{
		EntityID: entityID, TraversalID: traversalID, IsUpdate: isUpdate, StackID: stackID,
		InputData: map[string]interface{}{},
	}
	return nil
}

func (f *fakeStore) Get(ctx context.Context, entityID, traversalID string, isUpdate bool) (*model.SyncPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.points[f.key(entityID, traversalID, isUpdate)]
	if !ok {
		return nil, &convergeerr.NotFound{Kind: convergeerr.EntitySyncPoint, Key: entityID}
	}
	cp := *sp
	cp.InputData = cloneMap(sp.InputData)
	return &cp, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, stackID, traversalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, sp := range f.points {
		if sp.StackID == stackID && sp.TraversalID == traversalID {
			delete(f.points, k)
		}
	}
	return nil
}

func (f *fakeStore) UpdateInputData(ctx context.Context, entityID, traversalID string, isUpdate bool,
	expectedAtomicKey int64, inputData map[string]interface{}, extraData *model.ExtraData) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.points[f.key(entityID, traversalID, isUpdate)]
	if !ok {
		return 0, &convergeerr.NotFound{Kind: convergeerr.EntitySyncPoint, Key: entityID}
	}
	if sp.AtomicKey != expectedAtomicKey {
		return 0, nil
	}
	sp.InputData = cloneMap(inputData)
	if extraData != nil {
		sp.ExtraData = *extraData
	}
	sp.AtomicKey++
	return 1, nil
}

func TestUpdateSyncPoint_mergesDataAndFailures(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "stack-1", "t1", true, "stack-1"))

	result, err := UpdateSyncPoint(ctx, store, "stack-1", "t1", true, nil,
		map[string]interface{}{"a": 1}, map[string]string{"a": "boom"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1}, result.InputData)
	assert.Equal(t, map[string]string{"a": "boom"}, result.ResourceFailures)
}

func TestUpdateSyncPoint_notFoundIsPermanent(t *testing.T) {
	store := newFakeStore()
	_, err := UpdateSyncPoint(context.Background(), store, "missing", "t1", true, nil, nil, nil, false)
	require.Error(t, err)
	var nf *convergeerr.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestSync_waitsForAllPredecessors(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "2", "t1", true, "stack-1"))

	preds := map[SenderKey]struct{}{
		{EntityID: "0", IsUpdate: true}: {},
		{EntityID: "1", IsUpdate: true}: {},
	}

	var propagated bool
	propagate := func(ctx context.Context, entityID string, inputData map[string]interface{},
		resourceFailures map[string]string, skipPropagate bool) error {
		propagated = true
		return nil
	}

	zeroKey := SenderKey{EntityID: "0", IsUpdate: true}
	err := Sync(ctx, store, "2", "t1", true, propagate, preds,
		map[string]interface{}{zeroKey.String(): nil}, nil, false)
	require.NoError(t, err)
	assert.False(t, propagated, "should still be waiting on predecessor 1")

	oneKey := SenderKey{EntityID: "1", IsUpdate: true}
	err = Sync(ctx, store, "2", "t1", true, propagate, preds,
		map[string]interface{}{oneKey.String(): nil}, nil, false)
	require.NoError(t, err)
	assert.True(t, propagated, "both predecessors present, should propagate")
}

func TestSync_noPredecessorsPropagatesImmediately(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "root", "t1", true, "stack-1"))

	var propagated bool
	propagate := func(ctx context.Context, entityID string, inputData map[string]interface{},
		resourceFailures map[string]string, skipPropagate bool) error {
		propagated = true
		return nil
	}

	err := Sync(ctx, store, "root", "t1", true, propagate, nil, nil, nil, false)
	require.NoError(t, err)
	assert.True(t, propagated)
}
