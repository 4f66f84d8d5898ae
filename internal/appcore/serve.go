package appcore

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adriankopytko/toolchat/internal/battle"
	"github.com/adriankopytko/toolchat/internal/toolserver"
)

type ServeOptions struct {
	WorkDir       string
	BattleWorkers int
	BattleTimeout time.Duration
	QueryTimeout  time.Duration
}

// BuildToolServer assembles the tool host. The database pool and the battle
// tools are optional: without a DSN the SQL tools report that no database is
// configured, and without an API key no battle tools are registered.
func BuildToolServer(ctx context.Context, settings Settings, options ServeOptions, logger Logger) (*toolserver.Server, func()) {
	cleanup := func() {}
	sqlRunner := toolserver.SQLRunner{Timeout: options.QueryTimeout}
	if dsn := settings.Database.ConnString(); dsn != "" {
		querier, err := toolserver.NewPgxQuerier(ctx, dsn)
		if err != nil {
			logger.Warnf("database unavailable, sql tools will fail: %v", err)
		} else {
			sqlRunner.Querier = querier
			cleanup = querier.Close
		}
	}

	var battles *toolserver.BattleRunner
	if llmConfig, err := settings.LLMConfig(); err != nil {
		logger.Warnf("battle tools disabled: %v", err)
	} else {
		engine := battle.NewEngine(NewLLMClient(llmConfig), logger)
		battles = toolserver.NewBattleRunner(engine, toolserver.BattleOptions{
			Workers:         options.BattleWorkers,
			Timeout:         options.BattleTimeout,
			SupportedModels: settings.Battle.SupportedModels,
			DefaultModels:   settings.Battle.Models,
		}, logger)
	}

	base := toolserver.ToolContext{WorkDir: options.WorkDir, Logger: logger}
	server := toolserver.NewServer(base, toolserver.StandardTools(sqlRunner, battles)...)
	return server, cleanup
}

// RunServe serves the tool host over stdin/stdout until the client
// disconnects.
func RunServe(ctx context.Context, settings Settings, options ServeOptions, logger Logger) error {
	server, cleanup := BuildToolServer(ctx, settings, options, logger)
	defer cleanup()

	logger.Infof("event=serve_start work_dir=%s tools=%d", options.WorkDir, len(server.Names()))
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
