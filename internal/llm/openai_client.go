package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

type OpenAIClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIClient {
	requestOptions := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}, opts...)
	return &OpenAIClient{client: openai.NewClient(requestOptions...)}
}

func (client *OpenAIClient) Complete(ctx context.Context, request CompletionRequest) (CompletionOutcome, error) {
	messageParams, err := toOpenAIMessages(request.Messages)
	if err != nil {
		return CompletionOutcome{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    request.Model,
		Messages: messageParams,
		Tools:    toOpenAIToolDefinitions(request.Tools),
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(request.MaxTokens)
	}
	if request.Temperature != nil {
		params.Temperature = openai.Float(*request.Temperature)
	}

	response, err := client.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionOutcome{}, convertAPIError(err)
	}

	return fromOpenAIResponse(response)
}

func convertAPIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	message := strings.TrimSpace(apiErr.Message)
	if message == "" {
		message = http.StatusText(apiErr.StatusCode)
	}
	return &APIError{StatusCode: apiErr.StatusCode, Message: message}
}

func toOpenAIToolDefinitions(definitions []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(definitions) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(definitions))
	for _, definition := range definitions {
		parameters := openai.FunctionParameters{}
		for key, value := range definition.Parameters {
			parameters[key] = value
		}

		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        definition.Name,
			Description: openai.String(definition.Description),
			Parameters:  parameters,
		}))
	}
	return tools
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(message.Content)},
				},
			})
		case RoleUser:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(message.Content)},
				},
			})
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if strings.TrimSpace(message.Content) != "" || len(message.ToolCalls) > 0 {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(message.Content)}
			}
			if len(message.ToolCalls) > 0 {
				assistant.ToolCalls = make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(message.ToolCalls))
				for _, toolCall := range message.ToolCalls {
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: toolCall.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      toolCall.Name,
								Arguments: toolCall.Arguments,
							},
						},
					})
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			if strings.TrimSpace(message.ToolCallID) == "" {
				return nil, fmt.Errorf("tool message is missing tool_call_id")
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Role:       "tool",
					ToolCallID: message.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(message.Content),
					},
				},
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", message.Role)
		}
	}
	return result, nil
}

func fromOpenAIResponse(response *openai.ChatCompletion) (CompletionOutcome, error) {
	if response == nil || len(response.Choices) == 0 {
		return CompletionOutcome{}, ErrNoChoices
	}

	choice := response.Choices[0]
	outcome, err := fromOpenAIMessage(choice.Message)
	if err != nil {
		return CompletionOutcome{}, err
	}
	outcome.FinishReason = choice.FinishReason
	if response.Usage.TotalTokens > 0 {
		outcome.Usage = &Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		}
	}
	return outcome, nil
}

func fromOpenAIMessage(message openai.ChatCompletionMessage) (CompletionOutcome, error) {
	content := strings.TrimSpace(message.Content)
	if content == "" {
		content = strings.TrimSpace(message.Refusal)
	}

	toolCalls, err := extractToolCalls(message)
	if err != nil {
		return CompletionOutcome{}, err
	}
	if len(toolCalls) > 0 {
		outcome := ToolCallsRequested(toolCalls...)
		outcome.Text = content
		return outcome, nil
	}
	return PlainAnswer(content), nil
}

// extractToolCalls prefers the raw wire payload so that arguments sent as a
// JSON object survive; messages built in memory fall back to the typed fields.
func extractToolCalls(message openai.ChatCompletionMessage) ([]ToolCall, error) {
	if raw := message.RawJSON(); raw != "" {
		rawToolCalls := gjson.Get(raw, "tool_calls")
		if rawToolCalls.IsArray() {
			return normalizeToolCalls(rawToolCalls.Raw)
		}
		if rawToolCalls.Exists() && rawToolCalls.Type != gjson.Null {
			return nil, &MalformedResponseError{Reason: "tool_calls is not an array"}
		}
	}

	toolCalls := make([]ToolCall, 0, len(message.ToolCalls))
	for index, toolCall := range message.ToolCalls {
		id := strings.TrimSpace(toolCall.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", index)
		}
		name := strings.TrimSpace(toolCall.Function.Name)
		if name == "" {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("tool call %s has no function name", id)}
		}
		arguments := toolCall.Function.Arguments
		if strings.TrimSpace(arguments) == "" {
			arguments = "{}"
		}
		toolCalls = append(toolCalls, ToolCall{ID: id, Name: name, Arguments: arguments})
	}
	return toolCalls, nil
}
