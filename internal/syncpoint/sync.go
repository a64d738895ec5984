package syncpoint

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/convlog"
	"github.com/stackforge/convergence/internal/model"
)

// PropagateFunc is invoked exactly once, when a sync point transitions
// from "not ready" to "ready": every predecessor in the supplied set has
// a contribution in input_data.
type PropagateFunc func(ctx context.Context, entityID string, inputData map[string]interface{}, resourceFailures map[string]string, skipPropagate bool) error

// UpdateResult is what UpdateSyncPoint returns on success.
type UpdateResult struct {
	InputData        map[string]interface{}
	ResourceFailures map[string]string
	SkipPropagate    bool
}

// maxJitterConflicts caps the dampening jitter applied per retry, the
// same 10s ceiling (1000 * 10ms) as the original tenacity-based retry.
const maxJitterConflicts = 1000

// UpdateSyncPoint merges newData and newFailures into the sync point's
// accumulated state with a CAS retry loop (spec §4.1, step 3). Initial
// per-attempt jitter scales with the number of predecessors still
// outstanding, to dampen thundering-herd retries; the overall wait is
// capped at 60s per attempt via exponential backoff, exactly mirroring
// heat.engine.sync_point.update_sync_point's tenacity configuration.
func UpdateSyncPoint(ctx context.Context, store Store, entityID string, traversalID string, isUpdate bool,
	predecessors map[SenderKey]struct{}, newData map[string]interface{},
	newFailures map[string]string, isSkip bool) (*UpdateResult, error) {

	var result *UpdateResult

	op := func() error {
		sp, err := store.Get(ctx, entityID, traversalID, isUpdate)
		if err != nil {
			// NotFound is not retryable: the traversal that owned this
			// sync point has been cancelled and its rows purged.
			return backoff.Permanent(err)
		}

		inputData := cloneMap(sp.InputData)
		extra := sp.ExtraData
		if extra.ResourceFailures == nil {
			extra.ResourceFailures = map[string]string{}
		}
		if newFailures != nil {
			for k, v := range newFailures {
				extra.ResourceFailures[k] = v
			}
		}
		if isSkip {
			extra.SkipPropagate = true
		}
		if newData != nil {
			for k, v := range newData {
				inputData[k] = v
			}
		}

		rows, err := store.UpdateInputData(ctx, entityID, traversalID, isUpdate, sp.AtomicKey, inputData, &extra)
		if err != nil {
			return err
		}
		if rows == 0 {
			// Lost the CAS race; another writer got there first. Retry.
			return errRetryCAS
		}

		result = &UpdateResult{
			InputData:        inputData,
			ResourceFailures: extra.ResourceFailures,
			SkipPropagate:    extra.SkipPropagate,
		}
		return nil
	}

	outstanding := len(predecessors)
	if sp, err := store.Get(ctx, entityID, traversalID, isUpdate); err == nil {
		for p := range predecessors {
			if _, ok := sp.InputData[p.String()]; ok {
				outstanding--
			}
		}
	}
	b := newRetryBackoff(outstanding)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if err == errRetryCAS {
			return nil, err
		}
		return nil, err
	}
	return result, nil
}

// errRetryCAS is a sentinel only ever seen if backoff gives up (it never
// does, by construction below) and is otherwise absorbed by the retry
// loop.
var errRetryCAS = &casConflictError{}

type casConflictError struct{}

func (e *casConflictError) Error() string { return "sync point CAS update conflict" }

// newRetryBackoff builds the exponential-with-jitter policy described in
// spec §4.1: ~10ms per potential conflict (derived from the number of
// predecessors not yet accounted for), capped at 10s of initial jitter,
// with the overall per-attempt wait capped at 60s.
func newRetryBackoff(outstandingPredecessors int) backoff.BackOff {
	nconflicts := outstandingPredecessors
	if nconflicts > maxJitterConflicts {
		nconflicts = maxJitterConflicts
	}
	initial := time.Duration(nconflicts) * 10 * time.Millisecond

	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         60 * time.Second,
		MaxElapsedTime:      0, // retry until the context is cancelled
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// jitter returns a small random delay in [0, max). Nothing in this
// module calls it at present; the retry loop draws its jitter from
// newRetryBackoff.
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Sync performs UpdateSyncPoint and, if every predecessor now has a
// contribution recorded, invokes propagate exactly once (spec §4.1's
// `sync` function). Not-yet-ready is a silent no-op.
func Sync(ctx context.Context, store Store, entityID string, traversalID string, isUpdate bool,
	propagate PropagateFunc, predecessors map[SenderKey]struct{},
	newData map[string]interface{}, newFailures map[string]string, isSkip bool) error {

	result, err := UpdateSyncPoint(ctx, store, entityID, traversalID, isUpdate, predecessors, newData, newFailures, isSkip)
	if err != nil {
		if _, isNotFound := err.(*convergeerr.NotFound); isNotFound {
			convlog.Warningf("[%s] sync point update failed for entity %s: %v", traversalID, entityID, err)
			return err
		}
		return err
	}

	waiting := 0
	for p := range predecessors {
		if _, ok := result.InputData[p.String()]; !ok {
			waiting++
		}
	}
	if waiting > 0 {
		convlog.V(2).Infof("[%s] waiting on entity %s: %d predecessors outstanding", traversalID, entityID, waiting)
		return nil
	}
	convlog.V(2).Infof("[%s] ready %s: got %v", traversalID, entityID, result.InputData)
	return propagate(ctx, entityID, result.InputData, result.ResourceFailures, result.SkipPropagate)
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
