// Package driver defines the resource-driver contract the convergence
// engine treats as an external collaborator (spec §1): each resource
// type exposes only create/update/delete/check_delete_complete plus a
// cancellation-aware step loop. internal/driver.Adapter composes a
// Provider with the resource store to implement checker.Resource, the
// capability interface the check-runner actually depends on.
package driver

import (
	"context"

	"github.com/stackforge/convergence/internal/model"
)

// Properties is the resolved property bag a resource is created or
// updated with (the template compiler's output; out of scope here, spec
// §1).
type Properties map[string]interface{}

// ReplaceNeeded is returned by Update to declare that the requested
// change cannot be made in place.
type ReplaceNeeded struct{}

func (ReplaceNeeded) Error() string { return "update requires replacement" }

// Provider is the minimal per-resource-type driver contract (spec §1,
// §9's "dynamic dispatch across many resource types"). Create, Update
// and Delete are handed a CheckMessage to poll at suspension points
// (CheckDeleteComplete is not); observing a cancel
// request should return *convergeerr.CancelOperation (or let it
// propagate from CheckMessage, which adapter call sites poll directly
// between provider steps).
type Provider interface {
	// Create provisions the remote resource. Returns the provider's
	// reference id and resolved attributes on success.
	Create(ctx context.Context, rsrc *model.Resource, props Properties, checkMessage func() error) (referenceID string, attrs map[string]interface{}, err error)

	// Update brings the remote resource in line with props. Returns
	// ReplaceNeeded if no in-place update is possible.
	Update(ctx context.Context, rsrc *model.Resource, props Properties, checkMessage func() error) (attrs map[string]interface{}, err error)

	// Delete requests deletion of the remote resource; it may return
	// before the deletion is observably complete.
	Delete(ctx context.Context, rsrc *model.Resource, checkMessage func() error) error

	// CheckDeleteComplete polls whether a previously requested deletion
	// has finished.
	CheckDeleteComplete(ctx context.Context, rsrc *model.Resource) (bool, error)
}
