package llm

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// normalizeToolCalls accepts the raw JSON array of tool calls and folds both
// observed payload shapes into ToolCall:
//
//	{"id":"c1","type":"function","function":{"name":"n","arguments":"{\"a\":1}"}}
//	{"id":"c1","name":"n","arguments":{"a":1}}
//
// Arguments given as an object are kept as their raw JSON text.
func normalizeToolCalls(raw string) ([]ToolCall, error) {
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return nil, &MalformedResponseError{Reason: "tool_calls is not an array"}
	}

	entries := parsed.Array()
	calls := make([]ToolCall, 0, len(entries))
	for index, entry := range entries {
		call, err := normalizeToolCall(index, entry)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func normalizeToolCall(index int, entry gjson.Result) (ToolCall, error) {
	if !entry.IsObject() {
		return ToolCall{}, &MalformedResponseError{Reason: fmt.Sprintf("tool call %d is not an object", index)}
	}

	id := strings.TrimSpace(entry.Get("id").String())
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}

	function := entry.Get("function")
	name := function.Get("name")
	arguments := function.Get("arguments")
	if !function.IsObject() {
		name = entry.Get("name")
		arguments = entry.Get("arguments")
	}

	if strings.TrimSpace(name.String()) == "" {
		return ToolCall{}, &MalformedResponseError{Reason: fmt.Sprintf("tool call %s has no function name", id)}
	}

	serialized, err := serializeArguments(arguments)
	if err != nil {
		return ToolCall{}, &MalformedResponseError{Reason: fmt.Sprintf("tool call %s: %v", id, err)}
	}

	return ToolCall{
		ID:        id,
		Name:      strings.TrimSpace(name.String()),
		Arguments: serialized,
	}, nil
}

// serializeArguments keeps string payloads as sent; they are validated per
// call when the tool is dispatched.
func serializeArguments(arguments gjson.Result) (string, error) {
	switch {
	case !arguments.Exists() || arguments.Type == gjson.Null:
		return "{}", nil
	case arguments.Type == gjson.String:
		return arguments.String(), nil
	case arguments.IsObject():
		return arguments.Raw, nil
	default:
		return "", fmt.Errorf("unsupported arguments payload %s", arguments.Type.String())
	}
}
