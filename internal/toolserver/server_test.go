package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/adriankopytko/toolchat/internal/tools"
)

func TestServer_ListsStandardTools(t *testing.T) {
	registry := connectRegistry(t, ToolContext{WorkDir: t.TempDir()}, StandardTools(SQLRunner{}, nil)...)

	descriptors, err := registry.ListTools(context.Background())
	require.NoError(t, err)

	snapshot := tools.NewSnapshot(descriptors)
	for _, name := range []string{"write_to_txt", "read_file", "list_dir", "query_database", "get_tables_info", "query_user_by_phone", "get_diet_records"} {
		descriptor, ok := snapshot.Lookup(name)
		require.True(t, ok, name)
		require.Equal(t, "object", descriptor.InputSchema["type"], name)
	}
	_, hasBattle := snapshot.Lookup("ai_model_battle")
	require.False(t, hasBattle)
}

func TestServer_WriteThenReadOverProtocol(t *testing.T) {
	workDir := t.TempDir()
	registry := connectRegistry(t, ToolContext{WorkDir: workDir}, WriteTextTool{}, ReadFileTool{}, ListDirTool{})
	ctx := context.Background()

	written, err := registry.CallTool(ctx, "write_to_txt", map[string]any{"filename": "notes/plan.txt", "content": "eat <more> greens"})
	require.NoError(t, err)
	envelope := decodeEnvelope(t, written.Text)
	require.True(t, envelope.OK)
	require.Equal(t, "write_to_txt", envelope.Meta["tool"])

	onDisk, err := os.ReadFile(filepath.Join(workDir, "notes", "plan.txt"))
	require.NoError(t, err)
	require.Equal(t, "eat <more> greens", string(onDisk))

	read, err := registry.CallTool(ctx, "read_file", map[string]any{"filename": "notes/plan.txt"})
	require.NoError(t, err)
	require.Equal(t, "eat <more> greens", decodeEnvelope(t, read.Text).Data)

	listed, err := registry.CallTool(ctx, "list_dir", nil)
	require.NoError(t, err)
	require.Contains(t, listed.Text, `"name":"notes","type":"dir"`)
}

func TestServer_ToolFailuresAreExecutionErrors(t *testing.T) {
	registry := connectRegistry(t, ToolContext{WorkDir: t.TempDir()}, WriteTextTool{}, ReadFileTool{})
	ctx := context.Background()

	testCases := map[string]struct {
		tool     string
		args     map[string]any
		contains string
	}{
		"path escape":      {tool: "write_to_txt", args: map[string]any{"filename": "../outside.txt", "content": "x"}, contains: "path policy violation"},
		"missing argument": {tool: "read_file", args: map[string]any{}, contains: "invalid arguments for read_file"},
		"missing file":     {tool: "read_file", args: map[string]any{"filename": "absent.txt"}, contains: "error reading file"},
		"unknown tool":     {tool: "drop_tables", args: map[string]any{}, contains: "drop_tables"},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := registry.CallTool(ctx, testCase.tool, testCase.args)
			var execErr *tools.ToolExecutionError
			require.True(t, errors.As(err, &execErr), "expected ToolExecutionError, got %v", err)
			require.Contains(t, execErr.Error(), testCase.contains)
		})
	}
}

func TestToolContextResolve(t *testing.T) {
	workDir := t.TempDir()
	ctx := ToolContext{WorkDir: workDir}

	resolved, err := ctx.Resolve("new/deeper/file.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, "new", "deeper", "file.txt"), resolved)

	resolved, err = ctx.Resolve("")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(workDir), resolved)

	_, err = ctx.Resolve("../escape.txt")
	require.ErrorIs(t, err, ErrOutsideWorkDir)
	_, err = ctx.Resolve("/etc/passwd")
	require.ErrorIs(t, err, ErrOutsideWorkDir)
	_, err = ToolContext{}.Resolve("file.txt")
	require.Error(t, err)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(workDir, "link")))
	_, err = ctx.Resolve("link/secret.txt")
	require.ErrorIs(t, err, ErrOutsideWorkDir)
}

func connectRegistry(t *testing.T, base ToolContext, toolset ...Tool) *tools.MCPRegistry {
	t.Helper()
	server := NewServer(base, toolset...)
	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	session, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)

	registry := tools.NewMCPRegistryWithTransport(clientTransport, "toolchat-test", "test")
	require.NoError(t, registry.Connect(ctx))

	t.Cleanup(func() {
		_ = registry.Close()
		_ = session.Close()
		cancel()
	})
	return registry
}

func decodeEnvelope(t *testing.T, text string) ResponseEnvelope {
	t.Helper()
	var envelope ResponseEnvelope
	require.NoError(t, json.Unmarshal([]byte(text), &envelope))
	return envelope
}
