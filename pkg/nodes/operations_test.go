package nodes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/nodes"
	"github.com/wehubfusion/Weaver/pkg/script"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func newOps(t *testing.T, opts ...nodes.Option) *nodes.Operations {
	t.Helper()
	ops, err := nodes.New(opts...)
	require.NoError(t, err)
	return ops
}

func node(typ workflow.NodeType, cfg workflow.NodeConfig) workflow.Node {
	return workflow.Node{ID: "n1", Type: typ, Config: cfg}
}

func TestUnknownNodeType(t *testing.T) {
	ops := newOps(t)
	_, err := ops.Execute(context.Background(), node("action-email", nil), nil, execution.NewContext())
	require.Error(t, err)
	assert.True(t, weavererrors.IsUnknownNodeType(err))
	assert.Equal(t, "Unknown node type: action-email", weavererrors.Message(err))

	assert.False(t, nodes.Supports("action-email"))
	for _, nt := range workflow.NodeTypes() {
		assert.True(t, nodes.Supports(nt))
	}
}

func TestManualTrigger(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	ops := newOps(t, nodes.WithClock(func() time.Time { return fixed }))

	out, err := ops.Execute(context.Background(), node(workflow.NodeTypeManualTrigger, nil), nil, execution.NewContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"triggered": true,
		"timestamp": "2024-05-01T11:00:00.000Z",
	}, out)
}

func TestSetVariable(t *testing.T) {
	ops := newOps(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		value interface{}
		want  interface{}
	}{
		{"json object", `{"a": 1}`, map[string]interface{}{"a": 1.0}},
		{"json number", "42", 42.0},
		{"json string", `"quoted"`, "quoted"},
		{"raw string", "hello world", "hello world"},
		{"empty string", "", ""},
		{"structured value", map[string]interface{}{"k": "v"}, map[string]interface{}{"k": "v"}},
		{"missing value", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := execution.NewContext()
			cfg := workflow.NodeConfig{"variableName": "x"}
			if tt.value != nil {
				cfg["value"] = tt.value
			}
			out, err := ops.Execute(ctx, node(workflow.NodeTypeSetVariable, cfg), nil, ec)
			require.NoError(t, err)
			assert.Equal(t, map[string]interface{}{"variableName": "x", "value": tt.want}, out)

			stored, ok := ec.Variable("x")
			require.True(t, ok)
			assert.Equal(t, tt.want, stored)
		})
	}
}

func TestSetVariableRequiresName(t *testing.T) {
	ops := newOps(t)
	_, err := ops.Execute(context.Background(), node(workflow.NodeTypeSetVariable, workflow.NodeConfig{"value": "1"}), nil, execution.NewContext())
	require.Error(t, err)
	assert.True(t, weavererrors.IsConfig(err))
	assert.Equal(t, "Variable name is required", weavererrors.Message(err))
}

func TestCondition(t *testing.T) {
	ops := newOps(t)
	ec := execution.NewContext()
	ec.SetVariable("threshold", 10.0)
	input := map[string]interface{}{"value": 15.0}

	out, err := ops.Execute(context.Background(),
		node(workflow.NodeTypeCondition, workflow.NodeConfig{"condition": "input.value > variables.threshold"}),
		input, ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"condition": "input.value > variables.threshold",
		"result":    true,
		"input":     input,
	}, out)

	branch, ok := nodes.BranchOf(out)
	require.True(t, ok)
	assert.Equal(t, "true", branch)

	out, err = ops.Execute(context.Background(),
		node(workflow.NodeTypeCondition, workflow.NodeConfig{"condition": "input.value > 100"}),
		input, ec)
	require.NoError(t, err)
	branch, _ = nodes.BranchOf(out)
	assert.Equal(t, "false", branch)

	_, ok = nodes.BranchOf("not a condition output")
	assert.False(t, ok)
}

func TestConditionErrors(t *testing.T) {
	ops := newOps(t)
	ctx := context.Background()

	_, err := ops.Execute(ctx, node(workflow.NodeTypeCondition, workflow.NodeConfig{}), nil, execution.NewContext())
	require.Error(t, err)
	assert.Equal(t, "Condition is required", weavererrors.Message(err))

	_, err = ops.Execute(ctx, node(workflow.NodeTypeCondition, workflow.NodeConfig{"condition": "input.value >"}), nil, execution.NewContext())
	require.Error(t, err)
	assert.True(t, weavererrors.IsEvaluation(err))
	assert.Contains(t, weavererrors.Message(err), "Condition evaluation failed: ")
	assert.Equal(t, "[EVALUATION_ERROR] "+weavererrors.Message(err), err.Error())
}

func TestCode(t *testing.T) {
	ops := newOps(t)
	ec := execution.NewContext()
	ec.SetVariable("factor", 3.0)

	out, err := ops.Execute(context.Background(),
		node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "return { result: input.value * variables.factor };"}),
		map[string]interface{}{"value": 2.0}, ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": 6.0}, out)

	out, err = ops.Execute(context.Background(),
		node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "var unused = 1;"}),
		nil, ec)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = ops.Execute(context.Background(),
		node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "return false;"}),
		nil, ec)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCodeErrors(t *testing.T) {
	ops := newOps(t)
	ctx := context.Background()

	_, err := ops.Execute(ctx, node(workflow.NodeTypeCode, workflow.NodeConfig{}), nil, execution.NewContext())
	require.Error(t, err)
	assert.Equal(t, "Code is required", weavererrors.Message(err))

	_, err = ops.Execute(ctx, node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "throw new Error('bad input');"}), nil, execution.NewContext())
	require.Error(t, err)
	assert.Equal(t, "Code execution failed: bad input", weavererrors.Message(err))
	assert.Equal(t, "[EVALUATION_ERROR] Code execution failed: bad input", err.Error())
}

func TestWhitespaceScriptsAreEvaluated(t *testing.T) {
	ops := newOps(t)
	ctx := context.Background()

	out, err := ops.Execute(ctx, node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "  \n "}), nil, execution.NewContext())
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = ops.Execute(ctx, node(workflow.NodeTypeCondition, workflow.NodeConfig{"condition": "   "}), nil, execution.NewContext())
	require.NoError(t, err)
	branch, ok := nodes.BranchOf(out)
	require.True(t, ok)
	assert.Equal(t, "false", branch)
}

func TestCodeTimeout(t *testing.T) {
	evaluator, err := script.NewEvaluator(script.Config{Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	ops := newOps(t, nodes.WithEvaluator(evaluator))

	_, err = ops.Execute(context.Background(), node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "for (;;) {}"}), nil, execution.NewContext())
	require.Error(t, err)
	assert.True(t, weavererrors.IsEvaluation(err))
	assert.True(t, weavererrors.IsTimeout(err))
}

func TestCodeCannotMutateScope(t *testing.T) {
	ops := newOps(t)
	ec := execution.NewContext()
	ec.SetVariable("v", 1.0)

	_, err := ops.Execute(context.Background(),
		node(workflow.NodeTypeCode, workflow.NodeConfig{"code": "variables.v = 2; return null;"}),
		nil, ec)
	require.NoError(t, err)

	v, _ := ec.Variable("v")
	assert.Equal(t, 1.0, v)
}
