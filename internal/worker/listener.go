package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge/convergence/internal/bus"
	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/convlog"
)

func listenerTopic(engineID string) string { return "engine_listener." + engineID }

// listenerProbe is the wire payload of an "are you alive" probe: the
// private topic the prober will wait on for a reply.
type listenerProbe struct {
	ReplyTopic string `json:"reply_topic"`
}

// Listener serves this engine's EngineListener RPC (spec §4.3.2, §12): a
// bounded liveness probe kept on its own topic, separate from
// CheckResourceTopic, so it keeps answering even when the engine's
// dispatch pool is saturated with long-running checks.
type Listener struct {
	Bus      bus.Bus
	EngineID string
}

// Serve drains probes addressed to this engine until ctx is cancelled,
// replying "alive" to each prober's private reply topic.
func (l *Listener) Serve(ctx context.Context) {
	topic := listenerTopic(l.EngineID)
	for ctx.Err() == nil {
		payload, err := l.Bus.Pop(ctx, topic, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			convlog.Errorf("[%s] listener probe: %v", l.EngineID, err)
			continue
		}
		if payload == nil {
			continue
		}
		var probe listenerProbe
		if err := json.Unmarshal(payload, &probe); err != nil {
			continue
		}
		_ = l.Bus.Push(ctx, probe.ReplyTopic, []byte("alive"))
	}
}

// LivenessChecker implements checker.Liveness by probing the target
// engine's Listener and waiting a bounded timeout for its reply (spec
// §4.3.2: "ask the peer's EngineListener 'are you alive?'"). No reply
// within Timeout is taken as dead, the same conclusion a genuinely dead
// engine and an unreachable one both produce.
type LivenessChecker struct {
	Bus     bus.Bus
	Timeout time.Duration // default 5s
}

var _ checker.Liveness = (*LivenessChecker)(nil)

func (l *LivenessChecker) IsAlive(ctx context.Context, engineID string) bool {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	replyTopic := "engine_listener_reply." + uuid.NewString()
	probe, err := json.Marshal(listenerProbe{ReplyTopic: replyTopic})
	if err != nil {
		return false
	}
	if err := l.Bus.Push(ctx, listenerTopic(engineID), probe); err != nil {
		return false
	}

	reply, err := l.Bus.Pop(ctx, replyTopic, timeout)
	if err != nil || reply == nil {
		return false
	}
	return true
}
