package worker

import (
	"context"
	"sync"
	"time"

	"github.com/stackforge/convergence/internal/bus"
	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convergeerr"
	"github.com/stackforge/convergence/internal/convlog"
)

func cancelTopic(engineID string) string { return "cancel_check_resource." + engineID }

// CastCancelCheckResource casts a THREAD_CANCEL request for stackID at a
// specific engine's own cancel topic (spec §4.5: "directed to a
// specific engine", unlike the shared check_resource topic).
func CastCancelCheckResource(ctx context.Context, b bus.Bus, engineID, stackID string) error {
	return b.Push(ctx, cancelTopic(engineID), []byte(stackID))
}

// CancelRegistry is this engine's in-process THREAD_CANCEL sentinel
// store: a driver's CheckMessage callback polls it to discover whether
// its stack has been cancelled since the check began (spec §4.5). Entries
// expire after ttl rather than being forgotten explicitly, since a
// cancelled stack gets a fresh traversal id and this registry has no way
// to tell "still the cancelled traversal" from "already retriggered" —
// bounding the window is simpler than threading the traversal id through
// every suspension-point poll.
type CancelRegistry struct {
	mu        sync.Mutex
	cancelled map[string]time.Time
	ttl       time.Duration
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancelled: map[string]time.Time{}, ttl: 30 * time.Second}
}

var _ checker.CancelSource = (*CancelRegistry)(nil)

// Poll implements checker.CancelSource.
func (c *CancelRegistry) Poll(stackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.cancelled[stackID]
	if !ok {
		return nil
	}
	if time.Since(at) > c.ttl {
		delete(c.cancelled, stackID)
		return nil
	}
	return &convergeerr.CancelOperation{}
}

// Mark records stackID as cancelled as of now.
func (c *CancelRegistry) Mark(stackID string) {
	c.mu.Lock()
	c.cancelled[stackID] = time.Now()
	c.mu.Unlock()
}

// ListenCancel drains cancel_check_resource messages addressed to
// engineID into reg until ctx is cancelled. Meant to run in its own
// goroutine for the lifetime of a Service.
func ListenCancel(ctx context.Context, b bus.Bus, engineID string, reg *CancelRegistry) {
	topic := cancelTopic(engineID)
	for ctx.Err() == nil {
		payload, err := b.Pop(ctx, topic, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			convlog.Errorf("[%s] cancel listener: %v", engineID, err)
			continue
		}
		if payload == nil {
			continue
		}
		reg.Mark(string(payload))
	}
}
