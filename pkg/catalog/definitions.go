package catalog

import "github.com/wehubfusion/Weaver/pkg/workflow"

func definitions() []Entry {
	return []Entry{
		{
			Type:        workflow.NodeTypeManualTrigger,
			Label:       "Manual Trigger",
			Icon:        "Play",
			Color:       "bg-emerald-500",
			Category:    CategoryTrigger,
			Description: "Manually start the workflow with a button click",
			Inputs:      []Input{},
			Outputs:     []Output{{Name: "output", Type: "any"}},
			ConfigFields: []ConfigField{
				{
					Name:         "buttonLabel",
					Label:        "Button Label",
					Type:         FieldText,
					Placeholder:  "Start Workflow",
					DefaultValue: "Start Workflow",
				},
			},
		},
		{
			Type:        workflow.NodeTypeHTTPRequest,
			Label:       "HTTP Request",
			Icon:        "Globe",
			Color:       "bg-blue-500",
			Category:    CategoryAction,
			Description: "Make HTTP requests to external APIs",
			Inputs:      []Input{{Name: "input", Type: "any", Required: false}},
			Outputs:     []Output{{Name: "response", Type: "object"}},
			ConfigFields: []ConfigField{
				{
					Name:  "method",
					Label: "Method",
					Type:  FieldSelect,
					Options: []Option{
						{Label: "GET", Value: "GET"},
						{Label: "POST", Value: "POST"},
						{Label: "PUT", Value: "PUT"},
						{Label: "DELETE", Value: "DELETE"},
					},
					DefaultValue: "GET",
				},
				{
					Name:        "url",
					Label:       "URL",
					Type:        FieldText,
					Placeholder: "https://api.example.com/data",
				},
				{
					Name:         "headers",
					Label:        "Headers (JSON)",
					Type:         FieldCode,
					Placeholder:  `{"Content-Type": "application/json"}`,
					DefaultValue: "{}",
				},
				{
					Name:        "body",
					Label:       "Body (JSON)",
					Type:        FieldCode,
					Placeholder: `{"key": "value"}`,
				},
			},
		},
		{
			Type:        workflow.NodeTypeSetVariable,
			Label:       "Set Variable",
			Icon:        "Database",
			Color:       "bg-purple-500",
			Category:    CategoryAction,
			Description: "Store data in a variable for later use",
			Inputs:      []Input{{Name: "input", Type: "any", Required: false}},
			Outputs:     []Output{{Name: "output", Type: "any"}},
			ConfigFields: []ConfigField{
				{
					Name:        "variableName",
					Label:       "Variable Name",
					Type:        FieldText,
					Placeholder: "myVariable",
				},
				{
					Name:        "value",
					Label:       "Value",
					Type:        FieldCode,
					Placeholder: `{"key": "value"}`,
				},
			},
		},
		{
			Type:        workflow.NodeTypeCondition,
			Label:       "IF Condition",
			Icon:        "GitBranch",
			Color:       "bg-orange-500",
			Category:    CategoryAction,
			Description: "Branch workflow based on a condition",
			Inputs:      []Input{{Name: "input", Type: "any", Required: true}},
			Outputs: []Output{
				{Name: "true", Type: "any"},
				{Name: "false", Type: "any"},
			},
			ConfigFields: []ConfigField{
				{
					Name:        "condition",
					Label:       "Condition (JavaScript)",
					Type:        FieldCode,
					Placeholder: "input.value > 10",
				},
			},
		},
		{
			Type:        workflow.NodeTypeCode,
			Label:       "Code",
			Icon:        "Code",
			Color:       "bg-slate-500",
			Category:    CategoryAction,
			Description: "Execute custom JavaScript code",
			Inputs:      []Input{{Name: "input", Type: "any", Required: false}},
			Outputs:     []Output{{Name: "output", Type: "any"}},
			ConfigFields: []ConfigField{
				{
					Name:        "code",
					Label:       "JavaScript Code",
					Type:        FieldCode,
					Placeholder: "return { result: input.value * 2 };",
				},
			},
		},
	}
}
