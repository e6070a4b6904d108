package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxRemovesDangerousGlobals(t *testing.T) {
	e := newTestEvaluator(t, Config{})

	for _, name := range []string{"require", "process", "module", "Buffer"} {
		out, err := e.RunCode(context.Background(), "return typeof "+name+";", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "undefined", out, name)
	}
}

func TestSandboxFreezesBuiltins(t *testing.T) {
	e := newTestEvaluator(t, Config{})
	out, err := e.RunCode(context.Background(), "return Object.isFrozen(Object.prototype) && Object.isFrozen(Array);", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	permissive := newTestEvaluator(t, Config{SecurityLevel: SecurityLevelPermissive})
	out, err = permissive.RunCode(context.Background(), "return Object.isFrozen(Object.prototype);", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestStrictModeBlocksEval(t *testing.T) {
	strict := newTestEvaluator(t, Config{SecurityLevel: SecurityLevelStrict})
	_, err := strict.RunCode(context.Background(), "return eval('1 + 1');", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eval is not allowed")

	out, err := strict.RunCode(context.Background(), "return typeof btoa;", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", out)
}

func TestEncodingUtilities(t *testing.T) {
	e := newTestEvaluator(t, Config{})
	out, err := e.RunCode(context.Background(), "return atob(btoa('weaver'));", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "weaver", out)
}

func TestConsoleDoesNotFail(t *testing.T) {
	e := newTestEvaluator(t, Config{})
	out, err := e.RunCode(context.Background(), "console.log('hello', input); return 1;", map[string]interface{}{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)
}

func TestDeepRecursionFails(t *testing.T) {
	e := newTestEvaluator(t, Config{MaxCallStackSize: 64})
	_, err := e.RunCode(context.Background(), "function f(n) { return f(n + 1); } return f(0);", nil, nil)
	assert.Error(t, err)
}
