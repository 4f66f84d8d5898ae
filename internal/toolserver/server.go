package toolserver

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adriankopytko/toolchat/internal/tools"
)

const (
	ServerName    = "toolchat_server"
	ServerVersion = "0.1.0"
)

// Tool is one capability exposed over MCP. Execute receives arguments that
// already satisfy the descriptor's input schema.
type Tool interface {
	Name() string
	Descriptor() tools.Descriptor
	Execute(ctx ToolContext, arguments string) (any, error)
}

// funcTool is a Tool backed by a closure.
type funcTool struct {
	descriptor tools.Descriptor
	run        func(ctx context.Context, arguments string) (any, error)
}

func (tool funcTool) Name() string {
	return tool.descriptor.Name
}

func (tool funcTool) Descriptor() tools.Descriptor {
	return tool.descriptor
}

func (tool funcTool) Execute(ctx ToolContext, arguments string) (any, error) {
	return tool.run(BaseContext(ctx), arguments)
}

// StandardTools assembles the file, database and battle tools. battles may be
// nil when no LLM credentials are configured.
func StandardTools(sql SQLRunner, battles *BattleRunner) []Tool {
	toolset := []Tool{WriteTextTool{}, ReadFileTool{}, ListDirTool{}}
	toolset = append(toolset, SQLTools(sql)...)
	if battles != nil {
		toolset = append(toolset, BattleTools(battles, sql)...)
	}
	return toolset
}

type Server struct {
	impl   *mcpsdk.Server
	base   ToolContext
	logger Logger
	names  []string
}

func NewServer(base ToolContext, toolset ...Tool) *Server {
	server := &Server{
		impl:   mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: ServerVersion}, nil),
		base:   base,
		logger: base.Logger,
	}
	for _, tool := range toolset {
		server.register(tool)
	}
	sort.Strings(server.names)
	return server
}

func (server *Server) Names() []string {
	return append([]string(nil), server.names...)
}

// Run serves one session over transport until the peer disconnects or ctx is
// done.
func (server *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	server.infof("event=server_start tools=%d", len(server.names))
	return server.impl.Run(ctx, transport)
}

func (server *Server) Connect(ctx context.Context, transport mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return server.impl.Connect(ctx, transport, nil)
}

func (server *Server) register(tool Tool) {
	descriptor := tool.Descriptor()
	server.impl.AddTool(&mcpsdk.Tool{
		Name:        descriptor.Name,
		Description: descriptor.Description,
		InputSchema: descriptor.InputSchema,
	}, server.handler(tool, descriptor))
	server.names = append(server.names, descriptor.Name)
}

func (server *Server) handler(tool Tool, descriptor tools.Descriptor) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		started := time.Now()
		raw := "{}"
		if req != nil && req.Params != nil {
			if trimmed := strings.TrimSpace(string(req.Params.Arguments)); trimmed != "" && trimmed != "null" {
				raw = trimmed
			}
		}

		args, err := tools.ParseArguments(descriptor, raw)
		if err != nil {
			server.warnf("tool=%s rejected arguments: %v", descriptor.Name, err)
			return errorResult(err), nil
		}
		normalized, err := json.Marshal(args)
		if err != nil {
			return errorResult(err), nil
		}

		toolCtx := server.base
		toolCtx.Context = ctx
		output, err := tool.Execute(toolCtx, string(normalized))
		if err != nil {
			server.warnf("tool=%s failed: %v", descriptor.Name, err)
			return errorResult(err), nil
		}

		elapsed := time.Since(started)
		server.infof("event=tool_call tool=%s duration_ms=%d", descriptor.Name, elapsed.Milliseconds())
		text := SuccessEnvelope(output, map[string]any{
			"tool":        descriptor.Name,
			"duration_ms": elapsed.Milliseconds(),
		})
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
	}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

func (server *Server) infof(format string, args ...interface{}) {
	if server.logger == nil {
		return
	}
	server.logger.Infof(format, args...)
}

func (server *Server) warnf(format string, args ...interface{}) {
	if server.logger == nil {
		return
	}
	server.logger.Warnf(format, args...)
}
