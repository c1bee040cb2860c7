package models

// FunctionDeclaration describes a callable tool to the model. The
// executable handler lives in the tool registry, not here, so the
// declaration can be marshaled into vendor wire formats as-is.
type FunctionDeclaration struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters defines the JSON Schema for function parameters
type Parameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}
