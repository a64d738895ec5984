package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus, used by tests that want to exercise
// dispatch/consume wiring without a real (or fake) Redis.
type MemoryBus struct {
	mu     sync.Mutex
	queues map[string][][]byte
	notify map[string]chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{queues: map[string][][]byte{}, notify: map[string]chan struct{}{}}
}

func (b *MemoryBus) Push(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.queues[topic] = append(b.queues[topic], payload)
	ch := b.notify[topic]
	b.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Pop(ctx context.Context, topic string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		q := b.queues[topic]
		if len(q) > 0 {
			payload := q[0]
			b.queues[topic] = q[1:]
			b.mu.Unlock()
			return payload, nil
		}
		ch, ok := b.notify[topic]
		if !ok {
			ch = make(chan struct{}, 1)
			b.notify[topic] = ch
		}
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
			continue
		case <-time.After(remaining):
			return nil, nil
		}
	}
}

var _ Bus = (*MemoryBus)(nil)
