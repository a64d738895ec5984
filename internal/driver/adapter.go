package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/store"
)

// pollInterval bounds how often Adapter.DeleteConvergence re-checks
// CheckDeleteComplete while waiting for an asynchronous provider
// deletion to finish.
const pollInterval = 200 * time.Millisecond

// Adapter implements checker.Resource by composing a Provider (the
// per-type driver) with the resource store, so the check-runner never
// depends on a concrete resource type (spec §9).
type Adapter struct {
	resources *store.ResourceStore
	provider  Provider
	row       *model.Resource
}

// NewAdapter wraps a freshly loaded resource row for use by the
// check-runner.
func NewAdapter(resources *store.ResourceStore, provider Provider, row *model.Resource) *Adapter {
	return &Adapter{resources: resources, provider: provider, row: row}
}

func (a *Adapter) ID() int64                { return a.row.ID }
func (a *Adapter) Action() model.Action     { return a.row.Action }
func (a *Adapter) Status() model.Status     { return a.row.Status }
func (a *Adapter) CurrentTemplateID() int64 { return a.row.CurrentTemplateID }

func (a *Adapter) Replaces() (int64, bool) {
	return a.row.Replaces, a.row.Replaces != 0
}

func (a *Adapter) ReplacedBy() (int64, bool) {
	return a.row.ReplacedBy, a.row.ReplacedBy != 0
}

func requiresSlice(requires map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(requires))
	for id := range requires {
		out = append(out, id)
	}
	return out
}

func (a *Adapter) acquireAndPoll(ctx context.Context, engineID string, action model.Action, checkMessage func() error, values map[string]interface{}) error {
	if checkMessage != nil {
		if err := checkMessage(); err != nil {
			return err
		}
	}
	merged := map[string]interface{}{"action": string(action), "status": string(model.StatusInProgress)}
	for k, v := range values {
		merged[k] = v
	}
	acquired, err := a.resources.AcquireLock(ctx, a.row.ID, engineID, merged)
	if err != nil {
		return err
	}
	if !acquired {
		return &convergeerr.UpdateInProgress{ResourceID: a.row.ID}
	}
	a.row.EngineID = engineID
	a.row.Action = action
	a.row.Status = model.StatusInProgress
	return nil
}

// CreateConvergence implements checker.Resource.
func (a *Adapter) CreateConvergence(ctx context.Context, templateID int64, requires map[int64]struct{}, engineID string, timeRemaining time.Duration, checkMessage func() error) error {
	if err := a.acquireAndPoll(ctx, engineID, model.ActionCreate, checkMessage, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeRemaining)
	defer cancel()

	refID, attrs, err := a.provider.Create(ctx, a.row, nil, checkMessage)
	if err != nil {
		if ctx.Err() != nil {
			return a.failAndRelease(ctx, model.ActionCreate, "timed out", &convergeerr.Timeout{ResourceID: a.row.ID})
		}
		return a.failAndRelease(ctx, model.ActionCreate, err.Error(), &convergeerr.ResourceFailure{Reason: err.Error(), Action: string(model.ActionCreate)})
	}

	return a.completeAndRelease(ctx, model.ActionCreate, templateID, requires, refID, attrs)
}

// UpdateConvergence implements checker.Resource.
func (a *Adapter) UpdateConvergence(ctx context.Context, templateID int64, requires map[int64]struct{}, engineID string, timeRemaining time.Duration, checkMessage func() error) error {
	if err := a.acquireAndPoll(ctx, engineID, model.ActionUpdate, checkMessage, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeRemaining)
	defer cancel()

	attrs, err := a.provider.Update(ctx, a.row, nil, checkMessage)
	if err != nil {
		if _, isReplace := err.(ReplaceNeeded); isReplace {
			// Release the lock; the replacement resource takes over.
			_ = a.resources.UpdateAndSave(ctx, a.row.ID, map[string]interface{}{"engine_id": ""})
			return &convergeerr.UpdateReplace{ResourceID: a.row.ID}
		}
		if ctx.Err() != nil {
			return a.failAndRelease(ctx, model.ActionUpdate, "timed out", &convergeerr.Timeout{ResourceID: a.row.ID})
		}
		return a.failAndRelease(ctx, model.ActionUpdate, err.Error(), &convergeerr.ResourceFailure{Reason: err.Error(), Action: string(model.ActionUpdate)})
	}

	return a.completeAndRelease(ctx, model.ActionUpdate, templateID, requires, a.row.ReferenceID, attrs)
}

// DeleteConvergence implements checker.Resource.
func (a *Adapter) DeleteConvergence(ctx context.Context, templateID int64, engineID string, timeRemaining time.Duration, checkMessage func() error) error {
	if err := a.acquireAndPoll(ctx, engineID, model.ActionDelete, checkMessage, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeRemaining)
	defer cancel()

	if err := a.provider.Delete(ctx, a.row, checkMessage); err != nil {
		return a.failAndRelease(ctx, model.ActionDelete, err.Error(), &convergeerr.ResourceFailure{Reason: err.Error(), Action: string(model.ActionDelete)})
	}

	for {
		done, err := a.provider.CheckDeleteComplete(ctx, a.row)
		if err != nil {
			return a.failAndRelease(ctx, model.ActionDelete, err.Error(), &convergeerr.ResourceFailure{Reason: err.Error(), Action: string(model.ActionDelete)})
		}
		if done {
			break
		}
		if checkMessage != nil {
			if err := checkMessage(); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return a.failAndRelease(ctx, model.ActionDelete, "timed out", &convergeerr.Timeout{ResourceID: a.row.ID})
		case <-time.After(pollInterval):
		}
	}

	return a.resources.UpdateAndSave(context.WithoutCancel(ctx), a.row.ID, map[string]interface{}{
		"status":        string(model.StatusComplete),
		"status_reason": "",
		"engine_id":     "",
	})
}

func (a *Adapter) completeAndRelease(ctx context.Context, action model.Action, templateID int64, requires map[int64]struct{}, refID string, attrs map[string]interface{}) error {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	values := map[string]interface{}{
		"status":              string(model.StatusComplete),
		"status_reason":       "",
		"current_template_id": templateID,
		"requires":            pq.Array(requiresSlice(requires)),
		"reference_id":        refID,
		"attributes":          attrsJSON,
		"uuid":                a.ensureUUID(),
		"engine_id":           "",
	}
	if err := a.resources.UpdateAndSave(ctx, a.row.ID, values); err != nil {
		return err
	}
	a.row.Status = model.StatusComplete
	a.row.CurrentTemplateID = templateID
	a.row.Requires = requiresSlice(requires)
	a.row.ReferenceID = refID
	a.row.Attributes = attrs
	a.row.EngineID = ""
	return nil
}

func (a *Adapter) failAndRelease(ctx context.Context, action model.Action, reason string, outErr error) error {
	_ = a.resources.UpdateAndSave(context.WithoutCancel(ctx), a.row.ID, map[string]interface{}{
		"status":        string(model.StatusFailed),
		"status_reason": reason,
		"engine_id":     "",
	})
	a.row.Status = model.StatusFailed
	a.row.StatusReason = reason
	a.row.EngineID = ""
	return outErr
}

func (a *Adapter) ensureUUID() string {
	if a.row.UUID != "" {
		return a.row.UUID
	}
	return uuid.NewString()
}

// MakeReplacement implements checker.Resource (spec §4.3.1).
func (a *Adapter) MakeReplacement(ctx context.Context, newTemplateID int64, requires map[int64]struct{}) (int64, error) {
	replacement := &model.Resource{
		StackID:           a.row.StackID,
		Name:              a.row.Name,
		Type:              a.row.Type,
		Action:            model.ActionInit,
		Status:            model.StatusInProgress,
		CurrentTemplateID: 0,
		Replaces:          a.row.ID,
		Requires:          requiresSlice(requires),
		UUID:              uuid.NewString(),
	}
	newID, err := a.resources.Create(ctx, replacement)
	if err != nil {
		return 0, err
	}
	if err := a.resources.UpdateAndSave(ctx, a.row.ID, map[string]interface{}{"replaced_by": newID}); err != nil {
		return 0, err
	}
	a.row.ReplacedBy = newID
	return newID, nil
}

// NodeData implements checker.Resource (spec §4.3.4). Attribute
// resolution is a direct read of the stored attributes here (the actual
// path-resolution logic lives in the out-of-scope resource driver); a
// failure to read them yields an empty map rather than an error.
func (a *Adapter) NodeData(ctx context.Context) (*model.NodeData, error) {
	attrs := a.row.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return &model.NodeData{
		ID:          a.row.ID,
		Name:        a.row.Name,
		ReferenceID: a.row.ReferenceID,
		Action:      a.row.Action,
		Status:      a.row.Status,
		UUID:        a.row.UUID,
		Attrs:       attrs,
	}, nil
}

// StateSet implements checker.Resource.
func (a *Adapter) StateSet(ctx context.Context, action model.Action, status model.Status, reason string) error {
	if err := a.resources.UpdateAndSave(ctx, a.row.ID, map[string]interface{}{
		"action":        string(action),
		"status":        string(status),
		"status_reason": reason,
	}); err != nil {
		return err
	}
	a.row.Action, a.row.Status, a.row.StatusReason = action, status, reason
	return nil
}

// ClearStoredAttributes implements checker.Resource.
func (a *Adapter) ClearStoredAttributes(ctx context.Context) error {
	empty, _ := json.Marshal(map[string]interface{}{})
	if err := a.resources.UpdateAndSave(ctx, a.row.ID, map[string]interface{}{"attributes": empty}); err != nil {
		return err
	}
	a.row.Attributes = map[string]interface{}{}
	return nil
}

// StoreAttributes implements checker.Resource.
func (a *Adapter) StoreAttributes(ctx context.Context, data *model.NodeData) error {
	attrsJSON, err := json.Marshal(data.Attrs)
	if err != nil {
		return err
	}
	if err := a.resources.UpdateAndSave(ctx, a.row.ID, map[string]interface{}{"attributes": attrsJSON}); err != nil {
		return err
	}
	a.row.Attributes = data.Attrs
	return nil
}

var _ checker.Resource = (*Adapter)(nil)
