package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"deskagent/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// property is one entry of a synthesized JSON Schema.
type property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type objectSchema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// emptyObjectSchema is used for plugin tools that report no schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// SynthesizeSchema builds a JSON Schema object from built-in parameters.
// Required names are sorted so the output is deterministic.
func SynthesizeSchema(params []types.ToolParameter) json.RawMessage {
	schema := objectSchema{
		Type:       "object",
		Properties: make(map[string]property, len(params)),
	}
	for _, p := range params {
		prop := property{
			Type:        p.Type.JSONType(),
			Description: p.Description,
		}
		if p.Type == types.ParamEnum {
			prop.Enum = append([]string(nil), p.Values...)
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	sort.Strings(schema.Required)

	data, err := json.Marshal(schema)
	if err != nil {
		// Only strings and slices of strings are marshalled here.
		panic(fmt.Sprintf("synthesize schema: %v", err))
	}
	return data
}

// LintSchema compiles a plugin-supplied schema. The result is informational:
// plugin schemas are exported to the model verbatim and never enforced.
func LintSchema(id string, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%s: empty input schema", id)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: input schema is not JSON: %w", id, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: input schema is not an object", id)
	}
	if t, ok := obj["type"]; ok && t != "object" {
		return fmt.Errorf("%s: input schema type is %v, want object", id, t)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}
