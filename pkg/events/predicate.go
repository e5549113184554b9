package events

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/stateflow/stateflow/pkg/models"
)

// ExprPredicate compiles an expression into a Predicate. The event is
// exposed as `type`, `nodeId`, `data`, and `timestamp`; the expression
// must evaluate to a boolean.
//
//	p, err := events.ExprPredicate(`type == "user_ok" && data.approved == true`)
func ExprPredicate(source string) (Predicate, error) {
	program, err := expr.Compile(source,
		expr.Env(map[string]interface{}{
			"type":      "",
			"nodeId":    "",
			"data":      map[string]interface{}{},
			"timestamp": time.Time{},
		}),
		expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile event predicate: %w", err)
	}
	return func(event *models.Event) bool {
		return runPredicate(program, event)
	}, nil
}

func runPredicate(program *vm.Program, event *models.Event) bool {
	env := map[string]interface{}{
		"type":      event.Type,
		"nodeId":    event.NodeID,
		"data":      event.Data,
		"timestamp": event.Timestamp,
	}
	if env["data"] == nil {
		env["data"] = map[string]interface{}{}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}
