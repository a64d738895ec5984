package driver

import (
	"context"

	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/model"
	"github.com/stackforge/convergence/internal/store"
)

// Registry maps a resource's Type to the Provider that knows how to
// create/update/delete it, the dynamic-dispatch point the rest of the
// engine is deliberately kept ignorant of (spec §9).
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register associates resourceType with a Provider.
func (r *Registry) Register(resourceType string, p Provider) {
	r.providers[resourceType] = p
}

// SetFallback installs a Provider used for any resource type with no
// specific registration.
func (r *Registry) SetFallback(p Provider) {
	r.fallback = p
}

func (r *Registry) providerFor(resourceType string) (Provider, error) {
	if p, ok := r.providers[resourceType]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, &convergeerr.NotFound{Kind: convergeerr.EntityResource, Key: "no provider for type " + resourceType}
}

// Loader implements checker.Loader by reading the resource and stack
// rows and wrapping the resource in an Adapter bound to the type's
// provider (spec §4.5's load_resource).
type Loader struct {
	Resources *store.ResourceStore
	Stacks    *store.StackStore
	Providers *Registry
}

var _ checker.Loader = (*Loader)(nil)

func (l *Loader) LoadResource(ctx context.Context, resourceID int64, currentTraversal string, isUpdate bool) (checker.Resource, *model.Stack, error) {
	row, err := l.Resources.GetObj(ctx, resourceID, true)
	if err != nil {
		if _, ok := err.(*convergeerr.NotFound); ok {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	stack, err := l.Stacks.Get(ctx, row.StackID)
	if err != nil {
		if _, ok := err.(*convergeerr.NotFound); ok {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	provider, err := l.Providers.providerFor(row.Type)
	if err != nil {
		return nil, nil, err
	}
	return NewAdapter(l.Resources, provider, row), stack, nil
}

func (l *Loader) LoadStack(ctx context.Context, stackID string) (*model.Stack, error) {
	return l.Stacks.Get(ctx, stackID)
}
