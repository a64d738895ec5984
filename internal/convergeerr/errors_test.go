package convergeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFound_Error(t *testing.T) {
	err := &NotFound{Kind: EntityResource, Key: "42"}
	assert.Equal(t, "resource not found: 42", err.Error())
}

func TestUpdateInProgress_Error(t *testing.T) {
	err := &UpdateInProgress{ResourceID: 7}
	assert.Contains(t, err.Error(), "7")
}

func TestResourceFailure_Error(t *testing.T) {
	err := &ResourceFailure{Reason: "boom", Action: "CREATE"}
	assert.Equal(t, "resource CREATE failed: boom", err.Error())
}

func TestCircularDependency_Error(t *testing.T) {
	err := &CircularDependency{Cycle: "{a: {b}}"}
	assert.Contains(t, err.Error(), "a: {b}")
}

func TestWrap_nilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
}

func TestWrap_preservesCauseAndAddsContext(t *testing.T) {
	root := errors.New("root cause")
	wrapped := Wrap(root, "doing thing")
	assert.Contains(t, wrapped.Error(), "doing thing")
	assert.Contains(t, wrapped.Error(), "root cause")
	assert.Equal(t, root, Cause(wrapped))
}

func TestCause_unwrapsNotFoundThroughWrap(t *testing.T) {
	nf := &NotFound{Kind: EntitySyncPoint, Key: "stack-1"}
	wrapped := Wrap(nf, "sync point update")
	var got *NotFound
	assert.ErrorAs(t, Cause(wrapped), &got)
	assert.Equal(t, nf, got)
}
