package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/convergence/internal/convergeerr"
)

func TestRegistry_providerForRegisteredType(t *testing.T) {
	r := NewRegistry()
	p := NewFakeProvider()
	r.Register("Compute::Instance", p)

	got, err := r.providerFor("Compute::Instance")
	require.NoError(t, err)
	assert.Same(t, Provider(p), got)
}

func TestRegistry_providerForUnknownTypeWithoutFallback(t *testing.T) {
	r := NewRegistry()
	_, err := r.providerFor("Unknown::Type")
	require.Error(t, err)
	var nf *convergeerr.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestRegistry_fallbackUsedForUnregisteredType(t *testing.T) {
	r := NewRegistry()
	fallback := NewFakeProvider()
	r.SetFallback(fallback)

	got, err := r.providerFor("Anything")
	require.NoError(t, err)
	assert.Same(t, Provider(fallback), got)
}

func TestRegistry_registeredTypeWinsOverFallback(t *testing.T) {
	r := NewRegistry()
	specific := NewFakeProvider()
	fallback := NewFakeProvider()
	r.Register("Compute::Instance", specific)
	r.SetFallback(fallback)

	got, err := r.providerFor("Compute::Instance")
	require.NoError(t, err)
	assert.Same(t, Provider(specific), got)
}
