// Package execution holds the per-run state shared between node operations:
// the variable scope written by set-variable nodes and the last output of
// every node that has run.
package execution

import "encoding/json"

// Context is the mutable state of one run. It is owned by a single executor
// and is not safe for concurrent use.
type Context struct {
	variables map[string]interface{}
	results   map[string]interface{}
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		variables: make(map[string]interface{}),
		results:   make(map[string]interface{}),
	}
}

// SetVariable stores value under name, replacing any previous value.
func (c *Context) SetVariable(name string, value interface{}) {
	c.variables[name] = value
}

// Variable returns a copy of one variable.
func (c *Context) Variable(name string) (interface{}, bool) {
	v, ok := c.variables[name]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Variables returns a deep copy of the variable scope. Changes to the
// returned map do not affect the context.
func (c *Context) Variables() map[string]interface{} {
	out := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		out[k] = deepCopy(v)
	}
	return out
}

// RecordResult stores the output of a node, replacing an earlier one.
func (c *Context) RecordResult(nodeID string, output interface{}) {
	c.results[nodeID] = output
}

// Result returns the last recorded output of a node.
func (c *Context) Result(nodeID string) (interface{}, bool) {
	v, ok := c.results[nodeID]
	return v, ok
}

// Results returns a copy of every recorded output keyed by node id.
func (c *Context) Results() map[string]interface{} {
	out := make(map[string]interface{}, len(c.results))
	for k, v := range c.results {
		out[k] = deepCopy(v)
	}
	return out
}

// deepCopy copies the map and slice shapes produced by JSON decoding. Other
// composite values are round-tripped through JSON.
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case string, bool, float64, int, int64, nil:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return t
		}
		return decoded
	}
}
