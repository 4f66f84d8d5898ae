package tools

import (
	"encoding/json"
	"strings"
)

// NormalizeJSONArguments returns raw when it is valid JSON, "{}" when it is
// blank, and otherwise the first complete object or array embedded in it.
// Models sometimes wrap payloads in prose or code fences.
func NormalizeJSONArguments(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return "{}", true
	case json.Valid([]byte(trimmed)):
		return trimmed, true
	}

	for _, open := range []byte{'{', '['} {
		if embedded, ok := firstJSONValue(trimmed, open); ok {
			return embedded, true
		}
	}
	return "", false
}

// ExtractJSONObject finds a JSON object inside free-form model output.
func ExtractJSONObject(text string) (string, bool) {
	return firstJSONValue(strings.TrimSpace(text), '{')
}

// firstJSONValue decodes from each occurrence of open in turn and returns the
// first one that yields a complete JSON value, byte for byte.
func firstJSONValue(input string, open byte) (string, bool) {
	for offset := 0; offset < len(input); {
		index := strings.IndexByte(input[offset:], open)
		if index < 0 {
			return "", false
		}
		start := offset + index

		var value json.RawMessage
		if err := json.NewDecoder(strings.NewReader(input[start:])).Decode(&value); err == nil {
			return string(value), true
		}
		offset = start + 1
	}
	return "", false
}
