package appcore

import (
	"context"
	"time"

	"github.com/adriankopytko/toolchat/internal/agent"
	"github.com/adriankopytko/toolchat/internal/llm"
	"github.com/adriankopytko/toolchat/internal/tools"
)

type ChatOptions struct {
	Model         string
	TurnTimeout   time.Duration
	ToolTimeout   time.Duration
	MaxToolRounds int
}

// ChatSession answers independent queries against one tool host. Queries
// share no conversation state.
type ChatSession struct {
	orchestrator agent.Orchestrator
	registry     tools.Registry
	turnTimeout  time.Duration
	logger       Logger
}

// ConnectToolHost dials the host named by spec and completes the handshake.
func ConnectToolHost(ctx context.Context, spec string, logger Logger) (*tools.MCPRegistry, error) {
	registry := tools.NewMCPRegistry(spec, ClientName, ClientVersion)
	if err := registry.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Infof("event=tool_host_connected spec=%s", spec)
	return registry, nil
}

func NewChatSession(client llm.Client, registry tools.Registry, options ChatOptions, logger Logger) *ChatSession {
	return &ChatSession{
		orchestrator: agent.Orchestrator{
			LLMClient: client,
			Model:     options.Model,
			Tools:     registry,
			Logger:    logger,
			Policy: agent.Policy{
				MaxToolRounds: options.MaxToolRounds,
				ToolTimeout:   options.ToolTimeout,
			},
		},
		registry:    registry,
		turnTimeout: options.TurnTimeout,
		logger:      logger,
	}
}

// ToolNames lists the host's tools in name order.
func (session *ChatSession) ToolNames(ctx context.Context) ([]string, error) {
	descriptors, err := session.registry.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return tools.NewSnapshot(descriptors).Names(), nil
}

// Ask runs one query. The answer is always set; err reports a gateway or
// transport failure that the answer describes.
func (session *ChatSession) Ask(ctx context.Context, query string) (string, error) {
	correlationID := NewCorrelationID()
	queryCtx, cancel := withOptionalTimeout(ctx, session.turnTimeout)
	defer cancel()

	started := time.Now()
	result, err := session.orchestrator.RunQuery(queryCtx, query, correlationID)
	session.logger.Infof("event=turn_complete correlation_id=%s rounds=%d tool_results=%d failures=%d duration_ms=%d ok=%t",
		correlationID, result.Rounds, len(result.ToolResults), len(result.FailureNotes), time.Since(started).Milliseconds(), err == nil)
	return result.Answer, err
}
