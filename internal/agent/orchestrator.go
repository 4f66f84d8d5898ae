package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adriankopytko/toolchat/internal/llm"
	"github.com/adriankopytko/toolchat/internal/tools"
)

const defaultMaxToolRounds = 1

var (
	ErrMissingLLMClient = errors.New("orchestrator missing llm client")
	ErrMissingRegistry  = errors.New("orchestrator missing tool registry")
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Policy bounds one query. MaxToolRounds is the number of tool dispatch rounds
// before the model's text is taken as final; zero means one round.
type Policy struct {
	MaxToolRounds int
	ToolTimeout   time.Duration
}

func (policy Policy) maxToolRounds() int {
	if policy.MaxToolRounds <= 0 {
		return defaultMaxToolRounds
	}
	return policy.MaxToolRounds
}

// ToolResult pairs a successful call with its textual outcome.
type ToolResult struct {
	CallID string `json:"-"`
	Tool   string `json:"call"`
	Result string `json:"result"`
}

type Result struct {
	Answer       string
	Transcript   []llm.Message
	ToolResults  []ToolResult
	FailureNotes []string
	Rounds       int
}

type Orchestrator struct {
	LLMClient llm.Client
	Model     string
	Tools     tools.Registry
	Logger    Logger
	Policy    Policy
}

type batchOutcome struct {
	succeeded int
	notes     []string
}

// RunQuery answers one stateless user query. The returned Result always
// carries answer text; a non-nil error means the query failed at the gateway
// or transport level and Answer describes the failure.
func (orchestrator Orchestrator) RunQuery(ctx context.Context, query string, correlationID string) (Result, error) {
	result := Result{
		Transcript: []llm.Message{{Role: llm.RoleUser, Content: query}},
	}
	if orchestrator.LLMClient == nil {
		result.Answer = failureAnswer("query failed", ErrMissingLLMClient)
		return result, ErrMissingLLMClient
	}
	if orchestrator.Tools == nil {
		result.Answer = failureAnswer("query failed", ErrMissingRegistry)
		return result, ErrMissingRegistry
	}

	descriptors, err := orchestrator.Tools.ListTools(ctx)
	if err != nil {
		result.Answer = failureAnswer("tool discovery failed", err)
		return result, err
	}
	snapshot := tools.NewSnapshot(descriptors)
	definitions := toToolDefinitions(snapshot)

	orchestrator.infoEvent("query_start", map[string]any{
		"correlation_id": correlationID,
		"tools":          len(definitions),
	})

	outcome, err := orchestrator.complete(ctx, result.Transcript, definitions)
	if err != nil {
		result.Answer = failureAnswer("llm request failed", err)
		return result, err
	}

	maxRounds := orchestrator.Policy.maxToolRounds()
	for {
		if !outcome.RequestsTools() {
			result.Answer = joinAnswer(result.FailureNotes, orFallback(outcome.Text, result.ToolResults))
			break
		}
		if result.Rounds >= maxRounds {
			orchestrator.warnf("tool round limit %d reached; %d follow-up tool call(s) not dispatched", maxRounds, len(outcome.ToolCalls))
			result.Answer = joinAnswer(result.FailureNotes, orFallback(outcome.Text, result.ToolResults))
			break
		}

		result.Rounds++
		batch, err := orchestrator.dispatchBatch(ctx, &result, snapshot, outcome.ToolCalls, correlationID)
		result.FailureNotes = append(result.FailureNotes, batch.notes...)
		if err != nil {
			result.Answer = failureAnswer("query cancelled", err)
			return result, err
		}
		if batch.succeeded == 0 {
			if len(result.ToolResults) == 0 {
				result.Answer = strings.Join(result.FailureNotes, "\n")
			} else {
				result.Answer = joinAnswer(result.FailureNotes, fallbackListing(result.ToolResults))
			}
			break
		}

		next, err := orchestrator.complete(ctx, result.Transcript, definitions)
		if err != nil {
			orchestrator.warnf("synthesis request failed, returning raw tool results: %v", err)
			result.Answer = joinAnswer(result.FailureNotes, fallbackListing(result.ToolResults))
			break
		}
		outcome = next
	}

	if strings.TrimSpace(result.Answer) == "" {
		result.Answer = "no response received from the model"
	}
	orchestrator.infoEvent("query_end", map[string]any{
		"correlation_id": correlationID,
		"rounds":         result.Rounds,
		"tool_results":   len(result.ToolResults),
		"failures":       len(result.FailureNotes),
	})
	return result, nil
}

// dispatchBatch runs the calls sequentially in the order returned. Per-call
// failures become notes. Once the registry connection is lost the remaining
// calls are noted as failed without being sent; only cancellation returns an
// error.
func (orchestrator Orchestrator) dispatchBatch(ctx context.Context, result *Result, snapshot tools.Snapshot, calls []llm.ToolCall, correlationID string) (batchOutcome, error) {
	var batch batchOutcome
	var lost error
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if lost != nil {
			batch.notes = append(batch.notes, failureNote(call.Name, lost))
			continue
		}

		descriptor, known := snapshot.Lookup(call.Name)
		if !known {
			descriptor = tools.Descriptor{Name: call.Name}
		}
		args, err := tools.ParseArguments(descriptor, call.Arguments)
		if err != nil {
			batch.notes = append(batch.notes, failureNote(call.Name, err))
			orchestrator.warnf("tool call id=%s name=%s rejected: %v", call.ID, call.Name, err)
			continue
		}

		orchestrator.infoEvent("tool_start", map[string]any{
			"correlation_id": correlationID,
			"round":          result.Rounds,
			"tool_call_id":   call.ID,
			"tool":           call.Name,
		})
		toolResult, err := orchestrator.callTool(ctx, call.Name, args)
		if err != nil {
			var transportErr *tools.TransportError
			if errors.As(err, &transportErr) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return batch, ctxErr
				}
				lost = err
			}
			batch.notes = append(batch.notes, failureNote(call.Name, err))
			orchestrator.warnf("tool call id=%s name=%s failed: %v", call.ID, call.Name, err)
			continue
		}
		orchestrator.infoEvent("tool_end", map[string]any{
			"correlation_id": correlationID,
			"round":          result.Rounds,
			"tool_call_id":   call.ID,
			"tool":           call.Name,
			"response_bytes": len(toolResult.Text),
		})

		batch.succeeded++
		result.ToolResults = append(result.ToolResults, ToolResult{CallID: call.ID, Tool: call.Name, Result: toolResult.Text})
		result.Transcript = append(result.Transcript,
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
			llm.Message{Role: llm.RoleTool, Content: toolResult.Text, ToolCallID: call.ID},
		)
	}
	return batch, nil
}

func (orchestrator Orchestrator) callTool(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	if orchestrator.Policy.ToolTimeout <= 0 {
		return orchestrator.Tools.CallTool(ctx, name, args)
	}

	toolCtx, cancel := context.WithTimeout(ctx, orchestrator.Policy.ToolTimeout)
	defer cancel()
	toolResult, err := orchestrator.Tools.CallTool(toolCtx, name, args)
	if err != nil && ctx.Err() == nil && errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
		return tools.Result{}, &tools.ToolExecutionError{
			Tool:    name,
			Message: fmt.Sprintf("timed out after %s", orchestrator.Policy.ToolTimeout),
		}
	}
	return toolResult, err
}

func (orchestrator Orchestrator) complete(ctx context.Context, transcript []llm.Message, definitions []llm.ToolDefinition) (llm.CompletionOutcome, error) {
	orchestrator.debugf("sending %d message(s) with %d tool definition(s)", len(transcript), len(definitions))
	outcome, err := orchestrator.LLMClient.Complete(ctx, llm.CompletionRequest{
		Model:    orchestrator.Model,
		Messages: transcript,
		Tools:    definitions,
	})
	if err != nil {
		return llm.CompletionOutcome{}, err
	}
	orchestrator.debugf("completion kind=%s finish_reason=%s tool_calls=%d", outcome.Kind, outcome.FinishReason, len(outcome.ToolCalls))
	return outcome, nil
}

func toToolDefinitions(snapshot tools.Snapshot) []llm.ToolDefinition {
	descriptors := snapshot.Descriptors()
	definitions := make([]llm.ToolDefinition, 0, len(descriptors))
	for _, descriptor := range descriptors {
		definitions = append(definitions, llm.ToolDefinition{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Parameters:  descriptor.InputSchema,
		})
	}
	return definitions
}

func failureNote(tool string, err error) string {
	var execErr *tools.ToolExecutionError
	var argErr *tools.ArgumentError
	switch {
	case errors.As(err, &execErr):
		return fmt.Sprintf("tool call failed: %s: %s", tool, execErr.Message)
	case errors.As(err, &argErr):
		return fmt.Sprintf("tool call failed: %s: invalid arguments: %s", tool, argErr.Reason)
	default:
		return fmt.Sprintf("tool call failed: %s: %v", tool, err)
	}
}

func failureAnswer(prefix string, err error) string {
	return fmt.Sprintf("%s: %v", prefix, err)
}

func fallbackListing(results []ToolResult) string {
	var buffer strings.Builder
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return fmt.Sprintf("tool calls completed: %v", results)
	}
	return "tool calls completed: " + strings.TrimRight(buffer.String(), "\n")
}

func orFallback(text string, results []ToolResult) string {
	if strings.TrimSpace(text) != "" || len(results) == 0 {
		return text
	}
	return fallbackListing(results)
}

func joinAnswer(notes []string, answer string) string {
	parts := make([]string, 0, len(notes)+1)
	parts = append(parts, notes...)
	if strings.TrimSpace(answer) != "" {
		parts = append(parts, answer)
	}
	return strings.Join(parts, "\n")
}

func (orchestrator Orchestrator) debugf(format string, args ...interface{}) {
	if orchestrator.Logger == nil {
		return
	}
	orchestrator.Logger.Debugf(format, args...)
}

func (orchestrator Orchestrator) warnf(format string, args ...interface{}) {
	if orchestrator.Logger == nil {
		return
	}
	orchestrator.Logger.Warnf(format, args...)
}

func (orchestrator Orchestrator) infoEvent(event string, fields map[string]any) {
	if orchestrator.Logger == nil {
		return
	}
	orchestrator.Logger.Infof("event=%s %s", event, formatFields(fields))
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatFieldValue(fields[key]))
	}
	return strings.Join(parts, " ")
}

func formatFieldValue(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.ReplaceAll(typed, " ", "_")
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
