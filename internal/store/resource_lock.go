package store

import (
	"context"

	"github.com/stackforge/convergence/internal/checker"
)

// ResourceLockInspector backs checker.LockInspector with a fresh,
// uncached read of engine_id/current_template_id straight from storage
// (spec §4.3.2's refresh=True reload).
type ResourceLockInspector struct {
	resources *ResourceStore
}

func NewResourceLockInspector(resources *ResourceStore) *ResourceLockInspector {
	return &ResourceLockInspector{resources: resources}
}

var _ checker.LockInspector = (*ResourceLockInspector)(nil)

func (l *ResourceLockInspector) CurrentLock(ctx context.Context, resourceID int64) (string, int64, error) {
	row, err := l.resources.GetObj(ctx, resourceID, true)
	if err != nil {
		return "", 0, err
	}
	return row.EngineID, row.CurrentTemplateID, nil
}

// StealLock forcibly clears engine_id, reclaiming a lock left behind by
// a worker that died mid-operation.
func (l *ResourceLockInspector) StealLock(ctx context.Context, resourceID int64) error {
	return l.resources.UpdateAndSave(ctx, resourceID, map[string]interface{}{"engine_id": ""})
}
