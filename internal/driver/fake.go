package driver

import (
	"context"
	"sync"

	"github.com/stackforge/convergence/internal/model"
)

// FakeProvider is an in-memory Provider used by tests in place of a real
// cloud resource driver. Scripted outcomes let tests exercise the
// UpdateReplace / failure / slow-delete paths deterministically.
type FakeProvider struct {
	mu sync.Mutex

	// ReplaceOn, when set, makes Update return ReplaceNeeded for any
	// resource whose name is in the set.
	ReplaceOn map[string]bool
	// FailOn makes Create/Update/Delete fail for the named resource with
	// the given error.
	FailOn map[string]error
	// DeleteCompletesAfter is how many CheckDeleteComplete polls a
	// resource's deletion takes to report done (0 = immediately).
	DeleteCompletesAfter map[string]int

	deletePolls map[string]int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		ReplaceOn:            map[string]bool{},
		FailOn:               map[string]error{},
		DeleteCompletesAfter: map[string]int{},
		deletePolls:          map[string]int{},
	}
}

func (f *FakeProvider) Create(ctx context.Context, rsrc *model.Resource, props Properties, checkMessage func() error) (string, map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailOn[rsrc.Name]; ok {
		return "", nil, err
	}
	return "ref-" + rsrc.Name, map[string]interface{}{"name": rsrc.Name}, nil
}

func (f *FakeProvider) Update(ctx context.Context, rsrc *model.Resource, props Properties, checkMessage func() error) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReplaceOn[rsrc.Name] {
		return nil, ReplaceNeeded{}
	}
	if err, ok := f.FailOn[rsrc.Name]; ok {
		return nil, err
	}
	return map[string]interface{}{"name": rsrc.Name}, nil
}

func (f *FakeProvider) Delete(ctx context.Context, rsrc *model.Resource, checkMessage func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailOn[rsrc.Name]; ok {
		return err
	}
	return nil
}

func (f *FakeProvider) CheckDeleteComplete(ctx context.Context, rsrc *model.Resource) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	need := f.DeleteCompletesAfter[rsrc.Name]
	f.deletePolls[rsrc.Name]++
	return f.deletePolls[rsrc.Name] > need, nil
}

var _ Provider = (*FakeProvider)(nil)
