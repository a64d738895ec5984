// Package bus implements the engine's anycast messaging primitive (spec
// §4.4): casting a request at a topic is a fire-and-forget handoff to
// whichever worker next pops it, never a point-to-point RPC with a
// reply. Backed by Redis lists (LPUSH/BRPOP) via go-redis, grounded on
// the pack's use of github.com/redis/go-redis/v9 for exactly this kind
// of queue primitive.
package bus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus is the cast/receive port every engine component layers its
// message shape on top of.
type Bus interface {
	// Push enqueues payload onto topic for exactly one future Pop to
	// receive.
	Push(ctx context.Context, topic string, payload []byte) error

	// Pop blocks up to timeout for a message on topic. A nil payload
	// with a nil error means the wait timed out with nothing received.
	Pop(ctx context.Context, topic string, timeout time.Duration) ([]byte, error)
}

// RedisBus implements Bus over Redis lists: Push is LPUSH, Pop is
// BRPOP, giving FIFO delivery and the at-least-once, single-consumer
// semantics an anycast cast needs.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus wraps an existing client. prefix namespaces list keys so
// multiple engine deployments (or test runs) can share one Redis
// instance without colliding.
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) key(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + ":" + topic
}

func (b *RedisBus) Push(ctx context.Context, topic string, payload []byte) error {
	return b.client.LPush(ctx, b.key(topic), payload).Err()
}

func (b *RedisBus) Pop(ctx context.Context, topic string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, b.key(topic)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value]; we only ever ask for one key.
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}
