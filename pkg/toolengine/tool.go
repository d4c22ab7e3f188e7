package toolengine

import "context"

// Param defines one tool parameter for schema generation.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Spec is the advertised shape of a tool. Dangerous marks tools with
// side effects beyond the workspace read path.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters"`
	Dangerous   bool    `json:"dangerous,omitempty"`
}

// InputSchema renders the spec as a JSON Schema object map, the form
// model providers expect for tool declarations.
func (s Spec) InputSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	var required []string
	for _, param := range s.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Result is what a successful tool execution hands back to the run.
type Result struct {
	OK        bool           `json:"ok"`
	Summary   string         `json:"summary"`
	Fields    map[string]any `json:"fields,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Handler executes a tool with validated, default-filled arguments.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Tool pairs a spec with its handler.
type Tool struct {
	Spec    Spec
	Handler Handler
}
