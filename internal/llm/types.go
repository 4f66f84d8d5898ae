package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is the normalized tool-call request. Arguments holds the serialized
// payload exactly as the model produced it; it is not validated here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int64
	Temperature *float64
}

type OutcomeKind int

const (
	OutcomePlainAnswer OutcomeKind = iota
	OutcomeToolCalls
)

func (kind OutcomeKind) String() string {
	switch kind {
	case OutcomePlainAnswer:
		return "plain_answer"
	case OutcomeToolCalls:
		return "tool_calls"
	default:
		return "unknown"
	}
}

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// CompletionOutcome is either a plain answer (Text) or a batch of tool-call
// requests (ToolCalls), discriminated by Kind.
type CompletionOutcome struct {
	Kind         OutcomeKind
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

func PlainAnswer(text string) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomePlainAnswer, Text: text}
}

func ToolCallsRequested(calls ...ToolCall) CompletionOutcome {
	return CompletionOutcome{Kind: OutcomeToolCalls, ToolCalls: calls}
}

func (outcome CompletionOutcome) RequestsTools() bool {
	return outcome.Kind == OutcomeToolCalls && len(outcome.ToolCalls) > 0
}

type Client interface {
	Complete(ctx context.Context, request CompletionRequest) (CompletionOutcome, error)
}

func Float(value float64) *float64 {
	return &value
}
