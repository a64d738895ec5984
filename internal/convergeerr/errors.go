// Package convergeerr defines the typed error taxonomy the convergence
// engine distinguishes between (spec §7), in order of specificity.
// Local errors (NotFound, UpdateInProgress, UpdateReplace) are recovered
// inside the check-runner; surfaced errors (ResourceFailure, Timeout)
// become stack-level failures; CircularDependency and unknown errors are
// fatal for the traversal.
package convergeerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundKind identifies which kind of row a NotFound refers to.
type NotFoundKind string

const (
	EntityResource  NotFoundKind = "resource"
	EntityStack     NotFoundKind = "stack"
	EntitySyncPoint NotFoundKind = "sync point"
)

// NotFound is raised when a row has been removed from under the caller;
// for sync points this most often means the traversal was cancelled.
type NotFound struct {
	Kind NotFoundKind
	Key  string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// UpdateInProgress is raised when a resource lock is held by another
// engine (or another traversal) at the moment this engine attempted to
// acquire it.
type UpdateInProgress struct {
	ResourceID int64
}

func (e *UpdateInProgress) Error() string {
	return fmt.Sprintf("resource %d: update already in progress", e.ResourceID)
}

// UpdateReplace is raised by a driver to declare that the requested
// change cannot be made in place and a replacement resource is required.
type UpdateReplace struct {
	ResourceID int64
}

func (e *UpdateReplace) Error() string {
	return fmt.Sprintf("resource %d: update requires replacement", e.ResourceID)
}

// ResourceFailure is a driver-reported provider failure. Action records
// the action in effect when the failure occurred (falls back to the
// resource's current action if the driver does not supply one).
type ResourceFailure struct {
	Reason string
	Action string
}

func (e *ResourceFailure) Error() string {
	return fmt.Sprintf("resource %s failed: %s", e.Action, e.Reason)
}

// Timeout is raised by the scheduler when a driver exceeds the time
// budget handed to it (stack.TimeRemaining()).
type Timeout struct {
	ResourceID int64
}

func (e *Timeout) Error() string { return fmt.Sprintf("resource %d: timed out", e.ResourceID) }

// CancelOperation is raised when a driver observes THREAD_CANCEL on its
// message queue. By the time this is seen the stack has already been
// marked FAILED by whoever issued the cancel.
type CancelOperation struct{}

func (e *CancelOperation) Error() string { return "user triggered cancel" }

// CircularDependency is raised by graph construction when no topological
// order exists. Cycle carries a human-readable rendering of the
// remaining edges, for parity with the string the graph builder produces.
type CircularDependency struct {
	Cycle string
}

func (e *CircularDependency) Error() string {
	return fmt.Sprintf("circular dependency found: %s", e.Cycle)
}

// Wrap annotates err with msg while preserving its cause chain, the way
// the teacher's SDK wraps driver errors with github.com/pkg/errors.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Cause unwraps err to its root cause.
func Cause(err error) error {
	return errors.Cause(err)
}
