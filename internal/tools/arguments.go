package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ArgumentError reports a tool-call payload that is not a JSON object or does
// not satisfy the tool's input schema.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (err *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", err.Tool, err.Reason)
}

// ParseArguments decodes a serialized tool-call payload into a structured
// value and validates it against the descriptor's input schema when one is
// advertised. Schemas that fail to compile are treated as documentation only.
func ParseArguments(descriptor Descriptor, raw string) (map[string]any, error) {
	normalized, ok := NormalizeJSONArguments(raw)
	if !ok {
		return nil, &ArgumentError{Tool: descriptor.Name, Reason: "payload is not valid JSON"}
	}

	var decoded any
	if err := json.Unmarshal([]byte(normalized), &decoded); err != nil {
		return nil, &ArgumentError{Tool: descriptor.Name, Reason: err.Error()}
	}
	args, isObject := decoded.(map[string]any)
	if !isObject {
		return nil, &ArgumentError{Tool: descriptor.Name, Reason: "payload must be a JSON object"}
	}

	if len(descriptor.InputSchema) == 0 {
		return args, nil
	}
	schema, err := CompileSchema(descriptor.Name, descriptor.InputSchema)
	if err != nil {
		return args, nil
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, &ArgumentError{Tool: descriptor.Name, Reason: err.Error()}
	}
	return args, nil
}

// CompileSchema compiles a JSON-schema document given as a decoded map.
func CompileSchema(name string, document map[string]any) (*jsonschema.Schema, error) {
	payload, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("mem://schemas/%s.json", name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader(payload)); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}
