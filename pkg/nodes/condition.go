package nodes

import (
	"context"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func (o *Operations) condition(ctx context.Context, node workflow.Node, input interface{}, ec *execution.Context) (interface{}, error) {
	expr := node.Config.String("condition")
	if expr == "" {
		return nil, weavererrors.NewConfigError("Condition is required")
	}

	result, err := o.evaluator.EvaluateCondition(ctx, expr, input, ec.Variables())
	if err != nil {
		return nil, weavererrors.NewEvaluationError("Condition evaluation failed: "+err.Error(), err)
	}

	return map[string]interface{}{
		"condition": expr,
		"result":    result,
		"input":     input,
	}, nil
}

// BranchOf returns the port a condition output selected: "true" or "false".
// ok is false when output did not come from a condition node.
func BranchOf(output interface{}) (branch string, ok bool) {
	m, isMap := output.(map[string]interface{})
	if !isMap {
		return "", false
	}
	result, isBool := m["result"].(bool)
	if !isBool {
		return "", false
	}
	if result {
		return "true", true
	}
	return "false", true
}
