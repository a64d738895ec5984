package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stackforge/convergence/internal/bus"
)

func TestLivenessChecker_aliveWhenListenerServing(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := &Listener{Bus: b, EngineID: "engine-1"}
	go listener.Serve(ctx)

	checker := &LivenessChecker{Bus: b, Timeout: time.Second}
	assert.True(t, checker.IsAlive(ctx, "engine-1"))
}

func TestLivenessChecker_deadWhenNoListener(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	checker := &LivenessChecker{Bus: b, Timeout: 20 * time.Millisecond}
	assert.False(t, checker.IsAlive(ctx, "engine-ghost"))
}
