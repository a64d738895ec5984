package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge/convergence/internal/bus"
	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convlog"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// CancelRetries bounds how many 5s polls StopAllWorkers waits for
// engines to release their locks on a stack's resources (spec §12,
// heat/engine/worker.py's CANCEL_RETRIES).
const CancelRetries = 3

// LockedEngineSource answers which engines currently hold a lock on any
// resource of a stack (spec §4.5's engine_get_all_locked_by_stack),
// backed in production by store.ResourceStore.EnginesLockedByStack.
type LockedEngineSource interface {
	EnginesLockedByStack(ctx context.Context, stackID string) ([]string, error)
}

// StackAdvancer is the subset of stack bookkeeping StopTraversal needs
// beyond checker.StackController: the traversal-id CAS bump.
type StackAdvancer interface {
	SelectAndUpdate(ctx context.Context, id string, newTraversal, expectedTraversal string) (bool, error)
	MarkTerminal(ctx context.Context, id, expectedTraversal string, action model.Action, status model.Status, reason string) (bool, error)
}

// Service is one engine process's Worker Service (spec §4.5): it drains
// check_resource casts into a bounded Pool of concurrent Runner.Handle
// calls, serves this engine's EngineListener probe, owns the
// cancellation registry drivers consult mid-flight, and can stop an
// entire traversal on request.
type Service struct {
	EngineID   string
	Bus        bus.Bus
	Runner     *checker.Runner
	Engines    LockedEngineSource
	Stacks     StackAdvancer
	SyncPoints syncpoint.Store
	Cancel     *CancelRegistry

	pool *Pool
}

// Run starts numWorkers dispatch workers (0 defaults to GOMAXPROCS), the
// cancel listener, and the EngineListener responder, then drains
// CheckResourceTopic until ctx is cancelled. It returns the aggregate
// error of every task the pool ran, same as Pool.Wait(true).
func (s *Service) Run(ctx context.Context, numWorkers int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pool = NewPool(numWorkers, cancel)
	if s.Cancel == nil {
		s.Cancel = NewCancelRegistry()
	}

	go ListenCancel(runCtx, s.Bus, s.EngineID, s.Cancel)
	listener := &Listener{Bus: s.Bus, EngineID: s.EngineID}
	go listener.Serve(runCtx)

	for {
		if runCtx.Err() != nil {
			return s.pool.Wait(true)
		}
		payload, err := s.Bus.Pop(runCtx, CheckResourceTopic, 5*time.Second)
		if err != nil {
			if runCtx.Err() != nil {
				return s.pool.Wait(true)
			}
			convlog.Errorf("[%s] check_resource pop: %v", s.EngineID, err)
			continue
		}
		if payload == nil {
			continue
		}
		req, derr := decodeCheckRequest(payload)
		if derr != nil {
			convlog.Errorf("[%s] malformed check_resource payload: %v", s.EngineID, derr)
			continue
		}
		s.pool.AddWorker(func() error {
			return s.Runner.Handle(runCtx, req)
		})
	}
}

// StopTraversal bumps stack.CurrentTraversal to a fresh id (CAS'd
// against the traversal the caller observed), marks the stack FAILED
// with a cancellation reason, and deletes every sync point belonging to
// the old traversal (spec §4.5's stop_traversal). The original recurses
// into IN_PROGRESS descendant nested stacks; this module models a single
// stack level, so that recursion has no analogue here.
func (s *Service) StopTraversal(ctx context.Context, stack *model.Stack) error {
	oldTraversal := stack.CurrentTraversal
	newTraversal := uuid.NewString()

	ok, err := s.Stacks.SelectAndUpdate(ctx, stack.ID, newTraversal, oldTraversal)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else already advanced this stack's traversal.
		return nil
	}
	stack.CurrentTraversal = newTraversal

	reason := fmt.Sprintf("Stack %s cancelled", stack.Action)
	handled, err := s.Stacks.MarkTerminal(ctx, stack.ID, newTraversal, stack.Action, model.StatusFailed, reason)
	if err != nil {
		return err
	}
	if handled {
		stack.Status = model.StatusFailed
		stack.StatusReason = reason
	}

	return s.SyncPoints.DeleteAll(ctx, stack.ID, oldTraversal)
}

// StopAllWorkers fans CastCancelCheckResource out to every engine
// currently holding a lock on any resource of stackID, then polls up to
// CancelRetries times at a 5s interval until none remain (spec §4.5,
// §12's stop_all_workers/CANCEL_RETRIES).
func (s *Service) StopAllWorkers(ctx context.Context, stackID string) error {
	for attempt := 0; ; attempt++ {
		engines, err := s.Engines.EnginesLockedByStack(ctx, stackID)
		if err != nil {
			return err
		}
		if len(engines) == 0 {
			return nil
		}
		if attempt >= CancelRetries {
			return errors.New("stop_all_workers: engines still locked after retries exhausted")
		}
		for _, engineID := range engines {
			if err := CastCancelCheckResource(ctx, s.Bus, engineID, stackID); err != nil {
				convlog.Errorf("[%s] cancel cast to %s: %v", stackID, engineID, err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}
