package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_pushThenPopFIFO(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, "topic", []byte("first")))
	require.NoError(t, b.Push(ctx, "topic", []byte("second")))

	v1, err := b.Pop(ctx, "topic", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v1)

	v2, err := b.Pop(ctx, "topic", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v2)
}

func TestMemoryBus_popTimesOutWithNilPayload(t *testing.T) {
	b := NewMemoryBus()
	v, err := b.Pop(context.Background(), "empty", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryBus_popWakesOnPush(t *testing.T) {
	b := NewMemoryBus()
	done := make(chan []byte, 1)
	go func() {
		v, _ := b.Pop(context.Background(), "topic", 2*time.Second)
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Push(context.Background(), "topic", []byte("payload")))

	select {
	case v := <-done:
		assert.Equal(t, []byte("payload"), v)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestMemoryBus_popRespectsContextCancellation(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Pop(ctx, "topic", time.Second)
	assert.Error(t, err)
}

func TestMemoryBus_isolatedTopics(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Push(context.Background(), "a", []byte("x")))

	v, err := b.Pop(context.Background(), "b", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, v)
}
