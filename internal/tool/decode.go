// Package tool implements the closed, discriminated-union toolsets the
// operator loop (spec.md §4.6) and coordinator loop (spec.md §4.7) present
// to the LLM: one Go struct per tool, a JSON-Schema-backed ToolDefinition
// for each, and fail-closed argument decoding from the LLM's raw arguments
// map. Unknown tool names or malformed arguments are rejected rather than
// best-effort coerced, per spec.md §9's design note on tagged unions.
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Decode parses raw LLM tool-call arguments into dst (a pointer to one of
// the tool arg structs below), rejecting unknown fields so a malformed or
// hallucinated argument set fails closed rather than silently dropping
// data.
func Decode(raw map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("tool: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("tool: decode arguments: %w", err)
	}
	return nil
}

// SchemaFor reflects a Go struct into the JSON-Schema-shaped
// map[string]interface{} that llm.ToolDefinition.Parameters expects.
func SchemaFor(v any) map[string]interface{} {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		// Reflection+marshal of a plain struct literal cannot fail in
		// practice; if it ever does, surface an empty-but-valid schema
		// rather than panicking the caller.
		return map[string]interface{}{"type": "object"}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
