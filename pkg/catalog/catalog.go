// Package catalog is the static registry of node types: display metadata,
// declared ports and the schema of each type's configuration fields.
//
// The registry is built once at package initialisation and never mutated.
// Lookups return copies so callers cannot alter the shared table.
package catalog

import "github.com/wehubfusion/Weaver/pkg/workflow"

// Category groups node types in the palette.
type Category string

const (
	CategoryTrigger Category = "trigger"
	CategoryAction  Category = "action"
)

// FieldKind is the editor widget used for a configuration field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextarea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
	FieldCode     FieldKind = "code"
	FieldNumber   FieldKind = "number"
	FieldBoolean  FieldKind = "boolean"
)

// Input describes an input port.
type Input struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Output describes an output port.
type Output struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Option is one choice of a select field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ConfigField describes one user-editable configuration value.
type ConfigField struct {
	Name         string      `json:"name"`
	Label        string      `json:"label"`
	Type         FieldKind   `json:"type"`
	Placeholder  string      `json:"placeholder,omitempty"`
	Options      []Option    `json:"options,omitempty"`
	DefaultValue interface{} `json:"defaultValue,omitempty"`
}

// Entry is the catalog definition of a node type.
type Entry struct {
	Type         workflow.NodeType `json:"type"`
	Label        string            `json:"label"`
	Icon         string            `json:"icon"`
	Color        string            `json:"color"`
	Category     Category          `json:"category"`
	Description  string            `json:"description"`
	Inputs       []Input           `json:"inputs"`
	Outputs      []Output          `json:"outputs"`
	ConfigFields []ConfigField     `json:"configFields"`
}

func (e Entry) clone() Entry {
	out := e
	out.Inputs = append([]Input{}, e.Inputs...)
	out.Outputs = append([]Output{}, e.Outputs...)
	out.ConfigFields = make([]ConfigField, len(e.ConfigFields))
	for i, f := range e.ConfigFields {
		f.Options = append([]Option(nil), f.Options...)
		out.ConfigFields[i] = f
	}
	return out
}

var (
	entries = definitions()
	byType  = index(entries)
)

func index(list []Entry) map[workflow.NodeType]int {
	m := make(map[workflow.NodeType]int, len(list))
	for i, e := range list {
		m[e.Type] = i
	}
	return m
}

// Lookup returns the entry for a node type.
func Lookup(t workflow.NodeType) (Entry, bool) {
	i, ok := byType[t]
	if !ok {
		return Entry{}, false
	}
	return entries[i].clone(), true
}

// All returns every entry in palette order.
func All() []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	return out
}

// ByCategory returns the entries of one category in palette order.
func ByCategory(c Category) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Category == c {
			out = append(out, e.clone())
		}
	}
	return out
}

// IsTrigger reports whether t is registered as a trigger.
func IsTrigger(t workflow.NodeType) bool {
	e, ok := Lookup(t)
	return ok && e.Category == CategoryTrigger
}

// Defaults returns the configuration a freshly placed node of type t
// starts with. Fields without a default are omitted.
func Defaults(t workflow.NodeType) workflow.NodeConfig {
	cfg := workflow.NodeConfig{}
	e, ok := Lookup(t)
	if !ok {
		return cfg
	}
	for _, f := range e.ConfigFields {
		if f.DefaultValue != nil {
			cfg[f.Name] = f.DefaultValue
		}
	}
	return cfg
}

// NewNode builds a node of type t labelled and configured from the catalog.
func NewNode(t workflow.NodeType, pos workflow.Position) (workflow.Node, bool) {
	e, ok := Lookup(t)
	if !ok {
		return workflow.Node{}, false
	}
	return workflow.Node{
		ID:       workflow.NewNodeID(),
		Type:     t,
		Position: pos,
		Config:   Defaults(t),
		Label:    e.Label,
	}, true
}
