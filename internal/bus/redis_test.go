package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T, prefix string) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, prefix)
}

func TestRedisBus_pushThenPopFIFO(t *testing.T) {
	b := newTestRedisBus(t, "convergence")
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, "check_resource", []byte("first")))
	require.NoError(t, b.Push(ctx, "check_resource", []byte("second")))

	got, err := b.Pop(ctx, "check_resource", time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	got, err = b.Pop(ctx, "check_resource", time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestRedisBus_popTimesOutWithNilPayload(t *testing.T) {
	b := newTestRedisBus(t, "convergence")
	got, err := b.Pop(context.Background(), "empty_topic", 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisBus_prefixIsolatesTopicsAcrossDeployments(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisBus(client, "deployment-a")
	b := NewRedisBus(client, "deployment-b")
	ctx := context.Background()

	require.NoError(t, a.Push(ctx, "check_resource", []byte("a-payload")))

	got, err := b.Pop(ctx, "check_resource", 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got, "deployment-b must not see deployment-a's messages")

	got, err = a.Pop(ctx, "check_resource", time.Second)
	require.NoError(t, err)
	require.Equal(t, "a-payload", string(got))
}
