// Package syncpoint implements the durable rendezvous mechanism from
// spec §4.1: a CAS-guarded record per (entity, traversal, is_update) that
// accumulates predecessor contributions and fires exactly once when all
// of them have arrived.
package syncpoint

import (
	"context"

	"github.com/stackforge/convergence/internal/model"
)

// Store is the persistence port the sync-point store needs; the
// concrete implementation (internal/store) backs it with Postgres via
// sqlx, but the CAS/retry logic here is storage-agnostic.
type Store interface {
	// Create idempotently seeds a sync point with empty input data and
	// atomic_key = 0. Implementations return *convergeerr.NotFound-free
	// success even if the row already exists (the spec tolerates
	// AlreadyExists here).
	Create(ctx context.Context, entityID string, traversalID string, isUpdate bool, stackID string) error

	// Get retrieves a sync point, or a *convergeerr.NotFound error.
	Get(ctx context.Context, entityID string, traversalID string, isUpdate bool) (*model.SyncPoint, error)

	// DeleteAll purges every sync point belonging to one traversal of one
	// stack. Called when a traversal is superseded or completes.
	DeleteAll(ctx context.Context, stackID, traversalID string) error

	// UpdateInputData performs the CAS write: it succeeds (rowsUpdated=1)
	// only if the row's atomic_key still equals expectedAtomicKey.
	UpdateInputData(ctx context.Context, entityID string, traversalID string, isUpdate bool,
		expectedAtomicKey int64, inputData map[string]interface{}, extraData *model.ExtraData) (rowsUpdated int, err error)
}
