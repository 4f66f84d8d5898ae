package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportBuilder is overridden in tests to stub the transport factory.
var transportBuilder = buildTransport

const (
	stdioSchemePrefix = "stdio://"
	sseSchemePrefix   = "sse://"
	httpHintType      = "http"
	sseHintType       = "sse"
)

// MCPRegistry talks to a tool host over the Model Context Protocol.
type MCPRegistry struct {
	mu            sync.Mutex
	implClient    *mcpsdk.Client
	session       *mcpsdk.ClientSession
	transportSpec string
	transport     mcpsdk.Transport
}

func NewMCPRegistry(spec, clientName, clientVersion string) *MCPRegistry {
	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil)
	return &MCPRegistry{implClient: impl, transportSpec: spec}
}

// NewMCPRegistryWithTransport skips spec parsing and connects over transport.
func NewMCPRegistryWithTransport(transport mcpsdk.Transport, clientName, clientVersion string) *MCPRegistry {
	registry := NewMCPRegistry("", clientName, clientVersion)
	registry.transport = transport
	return registry
}

// Connect builds the transport and completes the initialize handshake. It is
// a no-op once a session exists.
func (registry *MCPRegistry) Connect(ctx context.Context) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.session != nil {
		return nil
	}
	if registry.implClient == nil {
		return &TransportError{Op: "connect", Err: errors.New("nil client implementation")}
	}

	transport := registry.transport
	if transport == nil {
		built, err := transportBuilder(ctx, registry.transportSpec)
		if err != nil {
			return &TransportError{Op: "connect", Err: fmt.Errorf("build transport: %w", err)}
		}
		transport = built
	}
	session, err := registry.implClient.Connect(ctx, transport, nil)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	registry.session = session
	return nil
}

func (registry *MCPRegistry) currentSession(op string) (*mcpsdk.ClientSession, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.session == nil {
		return nil, &TransportError{Op: op, Err: ErrNotConnected}
	}
	return registry.session, nil
}

func (registry *MCPRegistry) ListTools(ctx context.Context) ([]Descriptor, error) {
	session, err := registry.currentSession("list_tools")
	if err != nil {
		return nil, err
	}

	var descriptors []Descriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, &TransportError{Op: "list_tools", Err: err}
		}
		descriptors = append(descriptors, toDescriptor(tool))
	}
	return descriptors, nil
}

// CallTool performs exactly one invocation; no retry happens at this layer.
func (registry *MCPRegistry) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	session, err := registry.currentSession("call_tool")
	if err != nil {
		return Result{}, err
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if isTransportFailure(err) {
			return Result{}, &TransportError{Op: "call_tool", Err: err}
		}
		return Result{}, &ToolExecutionError{Tool: name, Message: err.Error()}
	}

	text := resultText(result)
	if result.IsError {
		return Result{}, &ToolExecutionError{Tool: name, Message: text}
	}
	return Result{Text: text}, nil
}

func (registry *MCPRegistry) Close() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.session == nil {
		return nil
	}
	err := registry.session.Close()
	registry.session = nil
	return err
}

func isTransportFailure(err error) bool {
	return errors.Is(err, mcpsdk.ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func toDescriptor(tool *mcpsdk.Tool) Descriptor {
	if tool == nil {
		return Descriptor{}
	}
	return Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schemaAsMap(tool.InputSchema),
	}
}

func schemaAsMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if typed, ok := schema.(map[string]any); ok {
		return typed
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}
	return decoded
}

// resultText joins text content blocks with newlines; other block kinds and
// structured content are rendered as JSON.
func resultText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}

	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		payload, err := json.Marshal(content)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%v", content))
			continue
		}
		parts = append(parts, string(payload))
	}

	if len(parts) == 0 && result.StructuredContent != nil {
		payload, err := json.Marshal(result.StructuredContent)
		if err == nil {
			return string(payload)
		}
	}
	return strings.Join(parts, "\n")
}

func buildTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("transport spec is empty")
	}

	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioSchemePrefix):
		return buildStdioTransport(ctx, spec[len(stdioSchemePrefix):])
	case strings.HasPrefix(lowered, sseSchemePrefix):
		endpoint, err := normalizeHTTPURL(spec[len(sseSchemePrefix):], true)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	if kind, endpoint, matched, err := parseHTTPFamilySpec(spec); err != nil {
		return nil, err
	} else if matched {
		if kind == httpHintType {
			return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		endpoint, err := normalizeHTTPURL(spec, false)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	}

	return buildStdioTransport(ctx, spec)
}

func buildStdioTransport(ctx context.Context, cmdSpec string) (mcpsdk.Transport, error) {
	parts := strings.Fields(strings.TrimSpace(cmdSpec))
	if len(parts) == 0 {
		return nil, fmt.Errorf("stdio command is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// #nosec G204 -- the command comes from the operator's --server flag
	command := exec.CommandContext(ctx, parts[0], parts[1:]...)
	return &mcpsdk.CommandTransport{Command: command}, nil
}

func parseHTTPFamilySpec(spec string) (kind string, endpoint string, matched bool, err error) {
	u, parseErr := url.Parse(strings.TrimSpace(spec))
	if parseErr != nil || u.Scheme == "" {
		return "", "", false, nil
	}
	base, hint, hasHint := strings.Cut(strings.ToLower(u.Scheme), "+")
	if !hasHint || (base != "http" && base != "https") {
		return "", "", false, nil
	}

	switch hint {
	case "sse":
		kind = sseHintType
	case "stream", "streamable", "http":
		kind = httpHintType
	default:
		return "", "", true, fmt.Errorf("unsupported HTTP transport hint %q", hint)
	}

	normalized := *u
	normalized.Scheme = base
	endpoint, err = normalizeHTTPURL(normalized.String(), false)
	if err != nil {
		return "", "", true, fmt.Errorf("invalid %s endpoint: %w", kind, err)
	}
	return kind, endpoint, true, nil
}

func normalizeHTTPURL(raw string, allowSchemeGuess bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("endpoint is empty")
	}
	if allowSchemeGuess && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}
