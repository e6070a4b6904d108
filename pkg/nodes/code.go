package nodes

import (
	"context"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func (o *Operations) code(ctx context.Context, node workflow.Node, input interface{}, ec *execution.Context) (interface{}, error) {
	src := node.Config.String("code")
	if src == "" {
		return nil, weavererrors.NewConfigError("Code is required")
	}

	out, err := o.evaluator.RunCode(ctx, src, input, ec.Variables())
	if err != nil {
		return nil, weavererrors.NewEvaluationError("Code execution failed: "+err.Error(), err)
	}
	return out, nil
}
