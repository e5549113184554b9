package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/stateflow/stateflow/pkg/clock"
	"github.com/stateflow/stateflow/pkg/models"
)

// Node types the engine registers permanently.
const (
	NodeTypeData  = "data"
	NodeTypeDelay = "delay"
)

func registerBuiltins(r *Registry) {
	r.handlers[NodeTypeData] = HandlerFunc(dataHandler)
	r.handlers[NodeTypeDelay] = &DelayHandler{Clock: clock.System()}
}

// dataHandler passes its inputs through. A single "value" input is
// unwrapped; anything else is returned as the full input map.
func dataHandler(_ context.Context, _ *models.Node, _ map[string]interface{}, inputs map[string]interface{}) (interface{}, error) {
	if len(inputs) == 1 {
		if v, ok := inputs["value"]; ok {
			return v, nil
		}
	}
	return inputs, nil
}

// DelayHandler sleeps for the "duration" input (milliseconds) and then
// passes the remaining inputs through like a data node.
type DelayHandler struct {
	Clock clock.Clock
}

// Execute implements Handler.
func (h *DelayHandler) Execute(ctx context.Context, node *models.Node, workflowContext map[string]interface{}, inputs map[string]interface{}) (interface{}, error) {
	ms, err := durationInput(inputs)
	if err != nil {
		return nil, err
	}

	clk := h.Clock
	if clk == nil {
		clk = clock.System()
	}
	if err := clk.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
		return nil, err
	}

	rest := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		if k != "duration" {
			rest[k] = v
		}
	}
	return dataHandler(ctx, node, workflowContext, rest)
}

// durationInput coerces the "duration" input, handling the float64 that
// JSON decoding produces.
func durationInput(inputs map[string]interface{}) (int64, error) {
	raw, ok := inputs["duration"]
	if !ok {
		return 0, fmt.Errorf("validation: delay node requires a duration input")
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("validation: duration must be a number, got %T", raw)
	}
}
