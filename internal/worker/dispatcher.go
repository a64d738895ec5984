package worker

import (
	"context"
	"encoding/json"

	"github.com/stackforge/convergence/internal/bus"
	"github.com/stackforge/convergence/internal/checker"
)

// CheckResourceTopic is the single shared topic every Service drains:
// casting onto it is an anycast handoff to whichever engine's pool next
// pops it (spec §4.4), a deliberate simplification of the original's
// per-engine RPC topic routing.
const CheckResourceTopic = "check_resource"

// wireCheckRequest is the JSON wire shape of a check_resource cast.
type wireCheckRequest struct {
	ResourceID       int64                  `json:"resource_id"`
	CurrentTraversal string                 `json:"current_traversal"`
	InputData        map[string]interface{} `json:"input_data,omitempty"`
	IsUpdate         bool                   `json:"is_update"`
	AdoptStackData   map[string]interface{} `json:"adopt_stack_data,omitempty"`
}

// BusDispatcher implements checker.Dispatcher by casting onto
// CheckResourceTopic.
type BusDispatcher struct {
	Bus bus.Bus
}

var _ checker.Dispatcher = (*BusDispatcher)(nil)

func (d *BusDispatcher) CheckResource(ctx context.Context, resourceID int64, currentTraversal string,
	inputData map[string]interface{}, isUpdate bool, adoptStackData map[string]interface{}) error {

	payload, err := json.Marshal(wireCheckRequest{
		ResourceID:       resourceID,
		CurrentTraversal: currentTraversal,
		InputData:        inputData,
		IsUpdate:         isUpdate,
		AdoptStackData:   adoptStackData,
	})
	if err != nil {
		return err
	}
	return d.Bus.Push(ctx, CheckResourceTopic, payload)
}

func decodeCheckRequest(payload []byte) (checker.CheckRequest, error) {
	var wire wireCheckRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return checker.CheckRequest{}, err
	}
	return checker.CheckRequest{
		ResourceID:       wire.ResourceID,
		CurrentTraversal: wire.CurrentTraversal,
		InputData:        wire.InputData,
		IsUpdate:         wire.IsUpdate,
		AdoptStackData:   wire.AdoptStackData,
	}, nil
}
