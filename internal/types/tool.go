package types

import (
	"encoding/json"
	"fmt"
	"slices"
)

// RiskLevel classifies how much damage a tool can do.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
)

// Valid reports whether r is one of the known tiers.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskCaution, RiskDangerous:
		return true
	}
	return false
}

// ParseRiskLevel maps free text onto a tier, failing closed to dangerous.
func ParseRiskLevel(s string) RiskLevel {
	r := RiskLevel(s)
	if r.Valid() {
		return r
	}
	return RiskDangerous
}

// ParamType is the declared type of a built-in tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamDouble ParamType = "double"
	ParamEnum   ParamType = "enum"
)

// JSONType returns the JSON Schema type keyword for the parameter type.
func (p ParamType) JSONType() string {
	switch p {
	case ParamInt:
		return "integer"
	case ParamBool:
		return "boolean"
	case ParamDouble:
		return "number"
	default:
		return "string"
	}
}

// ToolParameter describes one argument of a built-in tool.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Values      []string  `json:"values,omitempty"` // enum members
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// Accepts reports whether v is an acceptable value for the parameter.
func (p ToolParameter) Accepts(v Value) error {
	switch p.Type {
	case ParamString:
		if _, ok := v.AsString(); !ok {
			return fmt.Errorf("expected string, got %s", v.Kind())
		}
	case ParamInt:
		if _, ok := v.AsInt(); !ok {
			return fmt.Errorf("expected int, got %s", v.Kind())
		}
	case ParamBool:
		if _, ok := v.AsBool(); !ok {
			return fmt.Errorf("expected bool, got %s", v.Kind())
		}
	case ParamDouble:
		if _, ok := v.AsDouble(); !ok {
			return fmt.Errorf("expected double, got %s", v.Kind())
		}
	case ParamEnum:
		s, ok := v.AsString()
		if !ok {
			return fmt.Errorf("expected one of %v, got %s", p.Values, v.Kind())
		}
		if !slices.Contains(p.Values, s) {
			return fmt.Errorf("%q is not one of %v", s, p.Values)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", p.Type)
	}
	return nil
}

// ToolSource records where a definition came from.
type ToolSource string

const (
	SourceBuiltin ToolSource = "builtin"
	SourcePlugin  ToolSource = "plugin"
)

// ToolDefinition is immutable once registered. Plugin tools leave Parameters
// empty and carry the plugin's own schema in InputSchema.
type ToolDefinition struct {
	ID                   string          `json:"id"`
	DisplayName          string          `json:"display_name"`
	Description          string          `json:"description"`
	Parameters           []ToolParameter `json:"parameters,omitempty"`
	RiskLevel            RiskLevel       `json:"risk_level"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Source               ToolSource      `json:"source"`
	InputSchema          json.RawMessage `json:"input_schema,omitempty"`
}

// IsPlugin reports whether the definition was discovered from a plugin.
func (d *ToolDefinition) IsPlugin() bool {
	return d.Source == SourcePlugin
}

// Parameter returns the named parameter, if declared.
func (d *ToolDefinition) Parameter(name string) (ToolParameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// ToolCall is one invocation attempt. ID is the provider's tool-use id when
// the call came from a model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	ToolID    string `json:"tool_id"`
	Arguments Args   `json:"arguments"`
}

// ToolExecutionResult is what every executor returns.
type ToolExecutionResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(message string) ToolExecutionResult {
	return ToolExecutionResult{Success: true, Message: message}
}

// Failed builds a failure result.
func Failed(format string, args ...any) ToolExecutionResult {
	return ToolExecutionResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Text flattens the result into the string fed back to a model.
func (r ToolExecutionResult) Text() string {
	if r.Details == "" {
		return r.Message
	}
	if r.Message == "" {
		return r.Details
	}
	return r.Message + "\n" + r.Details
}

// ToolSchema is the {name, description, input_schema} triple handed to a
// tool-calling model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
