package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Weaver/pkg/catalog"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func TestLookupKnownTypes(t *testing.T) {
	for _, nt := range workflow.NodeTypes() {
		e, ok := catalog.Lookup(nt)
		require.True(t, ok, "missing catalog entry for %s", nt)
		assert.Equal(t, nt, e.Type)
		assert.NotEmpty(t, e.Label)
	}

	_, ok := catalog.Lookup("bogus")
	assert.False(t, ok)
}

func TestAllKeepsPaletteOrder(t *testing.T) {
	all := catalog.All()
	require.Len(t, all, len(workflow.NodeTypes()))
	for i, nt := range workflow.NodeTypes() {
		assert.Equal(t, nt, all[i].Type)
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	e, _ := catalog.Lookup(workflow.NodeTypeHTTPRequest)
	e.Label = "changed"
	e.ConfigFields[0].Options[0].Value = "PATCH"

	again, _ := catalog.Lookup(workflow.NodeTypeHTTPRequest)
	assert.Equal(t, "HTTP Request", again.Label)
	assert.Equal(t, "GET", again.ConfigFields[0].Options[0].Value)
}

func TestCategories(t *testing.T) {
	triggers := catalog.ByCategory(catalog.CategoryTrigger)
	require.Len(t, triggers, 1)
	assert.Equal(t, workflow.NodeTypeManualTrigger, triggers[0].Type)
	assert.Len(t, catalog.ByCategory(catalog.CategoryAction), 4)

	assert.True(t, catalog.IsTrigger(workflow.NodeTypeManualTrigger))
	assert.False(t, catalog.IsTrigger(workflow.NodeTypeCode))
	assert.False(t, catalog.IsTrigger("bogus"))
}

func TestConditionDeclaresBranchPorts(t *testing.T) {
	e, ok := catalog.Lookup(workflow.NodeTypeCondition)
	require.True(t, ok)
	require.Len(t, e.Outputs, 2)
	assert.Equal(t, "true", e.Outputs[0].Name)
	assert.Equal(t, "false", e.Outputs[1].Name)
	assert.True(t, e.Inputs[0].Required)
}

func TestDefaultsAndNewNode(t *testing.T) {
	d := catalog.Defaults(workflow.NodeTypeHTTPRequest)
	assert.Equal(t, "GET", d["method"])
	assert.Equal(t, "{}", d["headers"])
	_, hasURL := d["url"]
	assert.False(t, hasURL)

	n, ok := catalog.NewNode(workflow.NodeTypeManualTrigger, workflow.Position{X: 4})
	require.True(t, ok)
	assert.Equal(t, "Manual Trigger", n.Label)
	assert.Equal(t, "Start Workflow", n.Config["buttonLabel"])
	assert.NotEmpty(t, n.ID)

	_, ok = catalog.NewNode("bogus", workflow.Position{})
	assert.False(t, ok)
}
