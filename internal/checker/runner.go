package checker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/convlog"
	"github.com/stackforge/convergence/internal/graph"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/syncpoint"
)

// Runner is the Resource Check-Runner (spec §4.3): the per-node unit of
// work a worker executes when it drains a check_resource message.
// Grounded on heat/engine/check_resource.py's CheckResource class.
type Runner struct {
	EngineID   string
	Loader     Loader
	Stacks     StackController
	Graphs     GraphSource
	SyncPoints syncpoint.Store
	Dispatch   Dispatcher
	Locks      LockInspector
	Liveness   Liveness
	Cancel     CancelSource

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Check processes one node of the dependency graph: it either realizes
// the node (create/update/delete convergence) or recognizes one of the
// recoverable outcomes in the §7 error taxonomy, then on success
// initiates propagation to the node's dependents (spec §4.3, §4.4).
//
// Any error other than the recoverable outcomes marks the stack failed
// with the error's message before being returned, mirroring the
// original's save_and_reraise_exception wrapper around check().
func (r *Runner) Check(ctx context.Context, resourceID int64, currentTraversal string, resourceData ResourceData,
	isUpdate bool, adoptStackData map[string]interface{}, rsrc Resource, stack *model.Stack) (err error) {

	if stack.HasTimedOut(r.now()) {
		_, ferr := r.Stacks.MarkFailed(ctx, stack, "Timed out")
		return ferr
	}

	defer func() {
		if err != nil {
			convlog.Errorf("[%s] unexpected exception in resource check: %v", currentTraversal, err)
			_ = r.handleResourceFailure(ctx, isUpdate, resourceID, stack, err.Error())
		}
	}()

	done, derr := r.doCheckResource(ctx, currentTraversal, resourceData, isUpdate, rsrc, stack, adoptStackData)
	if derr != nil {
		err = derr
		return err
	}
	if !done {
		return nil
	}
	err = r.initiatePropagateResource(ctx, resourceID, currentTraversal, isUpdate, rsrc, stack, adoptStackData)
	return err
}

// doCheckResource realizes the node and classifies the outcome. done is
// true only on an unqualified success; a non-nil err means an
// unrecognized failure that the caller must treat as unexpected.
func (r *Runner) doCheckResource(ctx context.Context, currentTraversal string, resourceData ResourceData,
	isUpdate bool, rsrc Resource, stack *model.Stack, adoptStackData map[string]interface{}) (done bool, err error) {

	prevTemplateID := rsrc.CurrentTemplateID()
	templateID := stack.RawTemplateID
	timeRemaining := stack.TimeRemaining(r.now())
	checkMessage := r.checkMessageFor(stack)

	var convErr error
	if isUpdate {
		requires := resourceData.Requires()
		if rsrc.Action() == model.ActionInit {
			convErr = rsrc.CreateConvergence(ctx, templateID, requires, r.EngineID, timeRemaining, checkMessage)
		} else {
			convErr = rsrc.UpdateConvergence(ctx, templateID, requires, r.EngineID, timeRemaining, checkMessage)
		}
		if convErr == nil {
			return true, nil
		}
		if _, ok := convErr.(*convergeerr.UpdateReplace); ok {
			return false, r.handleResourceReplacement(ctx, currentTraversal, templateID, requires, rsrc, stack, resourceData, adoptStackData)
		}
	} else {
		convErr = rsrc.DeleteConvergence(ctx, templateID, r.EngineID, timeRemaining, checkMessage)
		if convErr == nil {
			return true, nil
		}
	}

	switch e := convErr.(type) {
	case *convergeerr.UpdateInProgress:
		if r.staleResourceNeedsRetry(ctx, rsrc, prevTemplateID) {
			_ = r.Dispatch.CheckResource(ctx, rsrc.ID(), currentTraversal, resourceData.serialize(), isUpdate, adoptStackData)
		}
		return false, nil
	case *convergeerr.ResourceFailure:
		action := e.Action
		if action == "" {
			action = string(rsrc.Action())
		}
		reason := fmt.Sprintf("resource %s failed: %s", action, e.Reason)
		return false, r.handleResourceFailure(ctx, isUpdate, rsrc.ID(), stack, reason)
	case *convergeerr.Timeout:
		return false, r.handleResourceFailure(ctx, isUpdate, rsrc.ID(), stack, "Timed out")
	case *convergeerr.CancelOperation:
		// The stack is already marked FAILED by whoever cancelled it; we
		// only need to retrigger in case a new traversal is waiting on us.
		return false, r.retriggerNewTraversal(ctx, currentTraversal, isUpdate, stack.ID, rsrc.ID())
	default:
		return false, convErr
	}
}

// checkMessageFor adapts the stale-retry-triggering cancellation check
// into the CheckMessage callback drivers poll at suspension points.
func (r *Runner) checkMessageFor(stack *model.Stack) CheckMessage {
	if r.Cancel == nil {
		return func() error { return nil }
	}
	stackID := stack.ID
	return func() error { return r.Cancel.Poll(stackID) }
}

// handleResourceReplacement creates the replacement resource and casts a
// check on it directly, bypassing the sync point (spec §4.3.1).
func (r *Runner) handleResourceReplacement(ctx context.Context, currentTraversal string, newTemplateID int64,
	requires map[int64]struct{}, rsrc Resource, stack *model.Stack, resourceData ResourceData, adoptStackData map[string]interface{}) error {

	newResID, err := rsrc.MakeReplacement(ctx, newTemplateID, requires)
	if err != nil {
		if _, ok := err.(*convergeerr.UpdateInProgress); ok {
			convlog.Infof("no replacement created: resource already locked by new traversal")
			return nil
		}
		return err
	}
	if newResID == 0 {
		convlog.Infof("no replacement created: new traversal already in progress")
		return r.retriggerNewTraversal(ctx, currentTraversal, true, stack.ID, rsrc.ID())
	}
	convlog.Infof("replacing resource with new id %d", newResID)
	return r.Dispatch.CheckResource(ctx, newResID, currentTraversal, resourceData.serialize(), true, adoptStackData)
}

// staleResourceNeedsRetry decides whether an UpdateInProgress was caused
// by a dead engine's abandoned lock (in which case it steals the lock
// and fails the resource) or by data merely being out of date relative
// to an already-released lock (spec §4.3.2).
func (r *Runner) staleResourceNeedsRetry(ctx context.Context, rsrc Resource, prevTemplateID int64) bool {
	engineID, currentTemplateID, err := r.Locks.CurrentLock(ctx, rsrc.ID())
	if err != nil {
		convlog.Errorf("could not refresh lock state for resource %d: %v", rsrc.ID(), err)
		return false
	}
	if engineID != "" && engineID != r.EngineID {
		if r.Liveness != nil && !r.Liveness.IsAlive(ctx, engineID) {
			_ = r.Locks.StealLock(ctx, rsrc.ID())
			reason := fmt.Sprintf("worker went down during resource %s", rsrc.Action())
			_ = rsrc.StateSet(ctx, rsrc.Action(), model.StatusFailed, reason)
			return true
		}
		convlog.V(2).Infof("resource %d modified by another traversal", rsrc.ID())
		return false
	}
	if engineID == "" && currentTemplateID == prevTemplateID {
		convlog.V(2).Infof("resource %d stale; retrying check", rsrc.ID())
		return true
	}
	convlog.V(2).Infof("resource %d modified by another traversal", rsrc.ID())
	return false
}

// handleResourceFailure marks the stack failed, or, if a newer traversal
// has already taken over, retriggers this node in case that traversal
// is waiting on it (spec §4.3).
func (r *Runner) handleResourceFailure(ctx context.Context, isUpdate bool, resourceID int64, stack *model.Stack, reason string) error {
	handled, err := r.Stacks.MarkFailed(ctx, stack, reason)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}
	return r.retriggerNewTraversal(ctx, stack.CurrentTraversal, isUpdate, stack.ID, resourceID)
}

// retriggerNewTraversal reloads the stack and, if a different traversal
// has since started, retriggers the node for it (spec §4.3.3).
func (r *Runner) retriggerNewTraversal(ctx context.Context, currentTraversal string, isUpdate bool, stackID string, resourceID int64) error {
	latest, err := r.Stacks.LoadLatest(ctx, stackID)
	if err != nil {
		return err
	}
	if currentTraversal == latest.CurrentTraversal {
		return nil
	}
	return r.retriggerCheckResource(ctx, isUpdate, resourceID, latest)
}

// retriggerReplaced handles a check_resource cast whose traversal has
// already been superseded by the time it was picked up (spec §4.5):
// rather than running a stale check against the current stack row, it
// recognizes an orphaned replacement resource (one the latest
// traversal's graph no longer wants) and marks it DELETE so purge can
// reap it, then retriggers the resource it replaced in case the latest
// traversal is waiting on that one instead. Mirrors worker.py's
// _retrigger_replaced.
func (r *Runner) retriggerReplaced(ctx context.Context, isUpdate bool, rsrc Resource, stack *model.Stack) error {
	deps, err := r.Graphs.Dependencies(ctx, stack)
	if err != nil {
		return err
	}
	key := graph.NewNode(strconv.FormatInt(rsrc.ID(), 10), isUpdate)
	replaces, ok := rsrc.Replaces()
	if deps.Contains(key) || !ok {
		return nil
	}
	if err := rsrc.StateSet(ctx, model.ActionDelete, rsrc.Status(), ""); err != nil {
		return err
	}
	return r.retriggerCheckResource(ctx, isUpdate, replaces, stack)
}

// retriggerCheckResource re-evaluates which node (update or cleanup) the
// latest traversal actually wants for this resource, and propagates into
// it directly (spec §4.3.3's retrigger_check_resource).
func (r *Runner) retriggerCheckResource(ctx context.Context, isUpdate bool, resourceID int64, stack *model.Stack) error {
	deps, err := r.Graphs.Dependencies(ctx, stack)
	if err != nil {
		return err
	}
	rid := strconv.FormatInt(resourceID, 10)
	key := graph.NewNode(rid, isUpdate)
	g := deps.Graph()

	if isUpdate {
		if _, ok := g[key]; !ok {
			// The latest traversal is waiting on this resource's delete,
			// not its update.
			key = graph.NewNode(rid, false)
		}
	} else if _, ok := g[graph.NewNode(rid, true)]; ok {
		// The latest traversal is waiting on this resource's update.
		key = graph.NewNode(rid, true)
	}

	convlog.Infof("[%s] re-trigger resource: %s", stack.CurrentTraversal, key)
	predecessors := toSenderKeySet(g[key])

	err = r.propagateCheckResource(ctx, key.EntityID, stack.CurrentTraversal, predecessors, key, nil, key.Type.IsUpdate(), nil)
	if nf, ok := err.(*convergeerr.NotFound); ok && nf.Kind == convergeerr.EntitySyncPoint {
		return nil
	}
	return err
}

// initiatePropagateResource walks the node's dependents in the
// dependency graph, feeding each its predecessor data through a sync
// point, then checks whether the whole traversal just completed (spec
// §4.3.4, §4.3.5).
func (r *Runner) initiatePropagateResource(ctx context.Context, resourceID int64, currentTraversal string, isUpdate bool,
	rsrc Resource, stack *model.Stack, adoptStackData map[string]interface{}) error {

	err := r.doInitiatePropagate(ctx, resourceID, currentTraversal, isUpdate, rsrc, stack, adoptStackData)
	if err == nil {
		return nil
	}
	nf, ok := err.(*convergeerr.NotFound)
	if !ok || nf.Kind != convergeerr.EntitySyncPoint {
		return err
	}

	latest, lerr := r.Stacks.LoadLatest(ctx, stack.ID)
	if lerr != nil {
		return lerr
	}
	if currentTraversal == latest.CurrentTraversal {
		convlog.V(2).Infof("[%s] traversal sync point missing", currentTraversal)
		return nil
	}
	return r.retriggerCheckResource(ctx, isUpdate, resourceID, latest)
}

func (r *Runner) doInitiatePropagate(ctx context.Context, resourceID int64, currentTraversal string, isUpdate bool,
	rsrc Resource, stack *model.Stack, adoptStackData map[string]interface{}) error {

	deps, err := r.Graphs.Dependencies(ctx, stack)
	if err != nil {
		return err
	}

	ridStr := strconv.FormatInt(resourceID, 10)
	graphKey := graph.NewNode(ridStr, isUpdate)
	if !deps.Contains(graphKey) {
		// We're a replacement working from a graph built before we
		// existed; impersonate the resource we replaced so dependents
		// compute readiness against the same version of the graph. Our
		// real id travels in the payload we send them.
		if replaces, ok := rsrc.Replaces(); ok {
			graphKey = graph.NewNode(strconv.FormatInt(replaces, 10), isUpdate)
		}
	}

	reqNodes := deps.RequiredBy(graphKey)
	sort.SliceStable(reqNodes, func(i, j int) bool { return nodeRank(reqNodes[i].Type) < nodeRank(reqNodes[j].Type) })
	g := deps.Graph()

	var forwardData map[string]interface{}
	var haveForward bool
	var forwardedNode *model.NodeData

	for _, reqNode := range reqNodes {
		var payload interface{}
		if reqNode.Type.IsUpdate() {
			if !haveForward {
				nd, err := rsrc.NodeData(ctx)
				if err != nil {
					return err
				}
				forwardedNode = nd
				forwardData = nd.AsMap()
				haveForward = true
			}
			payload = forwardData
		} else if reqNode.EntityID != graphKey.EntityID {
			// Don't send data when initiating cleanup of ourselves (the
			// resource we just replaced); otherwise tell the dependent
			// which resource superseded us, if any.
			if replacedBy, ok := rsrc.ReplacedBy(); ok {
				payload = replacedBy
			} else {
				payload = resourceID
			}
		}

		predecessors := toSenderKeySet(g[reqNode])
		if err := r.propagateCheckResource(ctx, reqNode.EntityID, currentTraversal, predecessors, graphKey, payload, reqNode.Type.IsUpdate(), adoptStackData); err != nil {
			return err
		}
	}

	if isUpdate {
		if !haveForward {
			if err := rsrc.ClearStoredAttributes(ctx); err != nil {
				return err
			}
		} else if err := rsrc.StoreAttributes(ctx, forwardedNode); err != nil {
			return err
		}
	}

	return r.checkStackComplete(ctx, stack, currentTraversal, graphKey, deps)
}

// propagateCheckResource feeds one sender's contribution into the next
// node's sync point, casting a check on it once every predecessor has
// reported (spec §4.1's propagate_check_resource).
func (r *Runner) propagateCheckResource(ctx context.Context, nextEntityID string, currentTraversal string,
	predecessors map[syncpoint.SenderKey]struct{}, sender graph.Node, senderData interface{}, isUpdate bool,
	adoptStackData map[string]interface{}) error {

	senderKey := syncpoint.SenderKey{EntityID: sender.EntityID, IsUpdate: sender.Type.IsUpdate()}
	newData := map[string]interface{}{senderKey.String(): senderData}

	doCheck := func(ctx context.Context, entityID string, inputData map[string]interface{}, resourceFailures map[string]string, skipPropagate bool) error {
		nextID, err := strconv.ParseInt(entityID, 10, 64)
		if err != nil {
			return err
		}
		return r.Dispatch.CheckResource(ctx, nextID, currentTraversal, inputData, isUpdate, adoptStackData)
	}

	return syncpoint.Sync(ctx, r.SyncPoints, nextEntityID, currentTraversal, isUpdate, doCheck, predecessors, newData, nil, false)
}

// checkStackComplete marks the stack complete once every root node has
// reported into the stack-level sync point (spec §4.3.5). The stack-level
// sync point is always keyed with isUpdate=true, entity_id=stack.ID.
func (r *Runner) checkStackComplete(ctx context.Context, stack *model.Stack, currentTraversal string, senderKey graph.Node, deps *graph.Dependencies) error {
	roots := deps.Roots()
	isRoot := false
	for _, rt := range roots {
		if rt == senderKey {
			isRoot = true
			break
		}
	}
	if !isRoot {
		return nil
	}

	rootKeys := make(map[syncpoint.SenderKey]struct{}, len(roots))
	for _, rt := range roots {
		rootKeys[syncpoint.SenderKey{EntityID: rt.EntityID, IsUpdate: rt.Type.IsUpdate()}] = struct{}{}
	}
	sk := syncpoint.SenderKey{EntityID: senderKey.EntityID, IsUpdate: senderKey.Type.IsUpdate()}
	newData := map[string]interface{}{sk.String(): nil}

	markComplete := func(ctx context.Context, entityID string, inputData map[string]interface{}, resourceFailures map[string]string, skipPropagate bool) error {
		return r.Stacks.MarkComplete(ctx, stack)
	}
	return syncpoint.Sync(ctx, r.SyncPoints, stack.ID, currentTraversal, true, markComplete, rootKeys, newData, nil, false)
}

// nodeRank orders cleanup nodes ahead of update nodes when propagating,
// mirroring sorted(..., key=lambda n: n.is_update) (False < True).
func nodeRank(t graph.NodeType) int {
	switch t {
	case graph.NodeCleanup:
		return 0
	case graph.NodeUpdate:
		return 1
	default:
		return 2
	}
}

func toSenderKeySet(nodes []graph.Node) map[syncpoint.SenderKey]struct{} {
	out := make(map[syncpoint.SenderKey]struct{}, len(nodes))
	for _, n := range nodes {
		out[syncpoint.SenderKey{EntityID: n.EntityID, IsUpdate: n.Type.IsUpdate()}] = struct{}{}
	}
	return out
}
