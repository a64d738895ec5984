// Package checker implements the Resource Check-Runner (spec §4.3): the
// per-node unit of work that loads a resource, acquires its lock,
// invokes the driver, and handles every outcome in the §7 error
// taxonomy.
package checker

import (
	"context"
	"time"

	"github.com/stackforge/convergence/internal/model"
)

// CheckMessage is polled by a driver at suspension points; it returns
// *convergeerr.CancelOperation once a cancel has been requested for the
// owning stack (spec §4.5, THREAD_CANCEL).
type CheckMessage func() error

// Resource is the capability set the check-runner needs from a
// resource, regardless of its concrete provider type (spec §9: "the
// core never depends on concrete resource classes"). internal/driver
// provides the only implementation, composing a Provider (the
// create/update/delete/check_delete_complete driver contract) with the
// resource store.
type Resource interface {
	ID() int64
	Action() model.Action
	Status() model.Status
	CurrentTemplateID() int64
	Replaces() (id int64, ok bool)
	ReplacedBy() (id int64, ok bool)

	// CreateConvergence and UpdateConvergence realize an update-node:
	// CreateConvergence when the resource's action is still INIT,
	// UpdateConvergence otherwise. Both acquire the per-resource lock by
	// CAS-setting engine_id, and may return *convergeerr.UpdateInProgress,
	// *convergeerr.UpdateReplace, *convergeerr.ResourceFailure, or
	// *convergeerr.Timeout.
	CreateConvergence(ctx context.Context, templateID int64, requires map[int64]struct{}, engineID string, timeRemaining time.Duration, checkMessage CheckMessage) error
	UpdateConvergence(ctx context.Context, templateID int64, requires map[int64]struct{}, engineID string, timeRemaining time.Duration, checkMessage CheckMessage) error

	// DeleteConvergence realizes a cleanup-node.
	DeleteConvergence(ctx context.Context, templateID int64, engineID string, timeRemaining time.Duration, checkMessage CheckMessage) error

	// MakeReplacement atomically creates a replacement resource row
	// (spec §4.3.1). It returns (0, nil) if a newer traversal has
	// already taken over, or *convergeerr.UpdateInProgress if a
	// concurrent traversal claimed it first.
	MakeReplacement(ctx context.Context, newTemplateID int64, requires map[int64]struct{}) (int64, error)

	// NodeData builds the path->value payload handed to successors on
	// success (spec §4.3.4). Attribute resolution failures yield an
	// empty Attrs map rather than an error.
	NodeData(ctx context.Context) (*model.NodeData, error)

	// StateSet writes a terminal (action, status) pair with a reason.
	StateSet(ctx context.Context, action model.Action, status model.Status, reason string) error

	// ClearStoredAttributes and StoreAttributes mirror the "re-resolve
	// vs reuse" branch in _initiate_propagate_resource: when propagation
	// forwarded fresh attribute data to a successor, it's cached; when it
	// didn't (no is_update successor existed to resolve for), any stale
	// cache is cleared so the next run re-resolves it.
	ClearStoredAttributes(ctx context.Context) error
	StoreAttributes(ctx context.Context, data *model.NodeData) error
}

// Loader loads a resource and the stack that owns it, by id (spec
// §4.5's load_resource / check_resource.load_resource). Returning
// (nil, nil, nil) signals the resource has already been removed and the
// caller should silently no-op, matching the original's ResourceNotFound
// handling.
type Loader interface {
	LoadResource(ctx context.Context, resourceID int64, currentTraversal string, isUpdate bool) (Resource, *model.Stack, error)
	LoadStack(ctx context.Context, stackID string) (*model.Stack, error)
}
