package llm

import (
	"errors"
	"fmt"
)

var ErrNoChoices = errors.New("no choices in response")

// APIError reports a non-success status from the upstream chat-completion service.
type APIError struct {
	StatusCode int
	Message    string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", err.StatusCode, err.Message)
}

// MalformedResponseError reports a response whose tool-call payload has neither
// of the supported shapes.
type MalformedResponseError struct {
	Reason string
}

func (err *MalformedResponseError) Error() string {
	return "malformed response: " + err.Reason
}
