package nodes

import (
	"context"

	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func (o *Operations) setVariable(_ context.Context, node workflow.Node, _ interface{}, ec *execution.Context) (interface{}, error) {
	name := node.Config.String("variableName")
	if name == "" {
		return nil, weavererrors.NewConfigError("Variable name is required")
	}

	value := node.Config["value"]
	if s, ok := value.(string); ok {
		value = parseLenient(s)
	}

	ec.SetVariable(name, value)
	o.logger.Debug("variable set", zap.String("node_id", node.ID), zap.String("variable", name))

	return map[string]interface{}{
		"variableName": name,
		"value":        value,
	}, nil
}
