package store

import (
	"context"

	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/model"
)

// StackController adapts StackStore (plus the sync-point table it must
// also clean up) into checker.StackController.
type StackController struct {
	stacks     *StackStore
	syncPoints *SyncPointStore
}

func NewStackController(stacks *StackStore, syncPoints *SyncPointStore) *StackController {
	return &StackController{stacks: stacks, syncPoints: syncPoints}
}

var _ checker.StackController = (*StackController)(nil)

// LoadLatest force-reloads the stack row.
func (c *StackController) LoadLatest(ctx context.Context, stackID string) (*model.Stack, error) {
	return c.stacks.Get(ctx, stackID)
}

// MarkFailed writes FAILED unless a newer traversal already moved the
// stack on, in which case handled is false.
func (c *StackController) MarkFailed(ctx context.Context, stack *model.Stack, reason string) (bool, error) {
	handled, err := c.stacks.MarkTerminal(ctx, stack.ID, stack.CurrentTraversal, stack.Action, model.StatusFailed, reason)
	if err != nil {
		return false, err
	}
	if handled {
		stack.Status = model.StatusFailed
		stack.StatusReason = reason
	}
	return handled, nil
}

// MarkComplete writes COMPLETE unless a newer traversal already moved
// the stack on.
func (c *StackController) MarkComplete(ctx context.Context, stack *model.Stack) (err error) {
	handled, err := c.stacks.MarkTerminal(ctx, stack.ID, stack.CurrentTraversal, stack.Action, model.StatusComplete, "")
	if err != nil {
		return err
	}
	if handled {
		stack.Status = model.StatusComplete
		stack.StatusReason = ""
	}
	return nil
}
