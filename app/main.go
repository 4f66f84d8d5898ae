package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adriankopytko/toolchat/internal/appcore"
	"github.com/adriankopytko/toolchat/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appcore.LoadEnvFilesIfPresent(appcore.DefaultEnvFiles, appcore.Logger{})

	root := cli.NewRootCommand(os.Getenv, cli.Handlers{
		Chat:   runChat,
		Serve:  runServe,
		Battle: runBattle,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(config cli.CommonConfig) (appcore.Logger, error) {
	return appcore.NewLogger(config.LogEnabled, config.LogLevel, appcore.LoggerSinkConfig{
		Sink:     config.LogSink,
		FilePath: config.LogFile,
	})
}

func runChat(ctx context.Context, config cli.ChatConfig) error {
	logger, err := newLogger(config.CommonConfig)
	if err != nil {
		return err
	}
	defer logger.Close()

	settings, err := appcore.ResolveSettings(logger)
	if err != nil {
		return err
	}
	llmConfig, err := settings.LLMConfig()
	if err != nil {
		return err
	}

	spec := config.Server
	if strings.TrimSpace(spec) == "" {
		if spec, err = appcore.DefaultServerSpec(); err != nil {
			return err
		}
	}
	registry, err := appcore.ConnectToolHost(ctx, spec, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	session := appcore.NewChatSession(appcore.NewLLMClient(llmConfig), registry, appcore.ChatOptions{
		Model:         llmConfig.Model,
		TurnTimeout:   config.TurnTimeout,
		ToolTimeout:   config.ToolTimeout,
		MaxToolRounds: config.MaxToolRounds,
	}, logger)

	names, err := session.ToolNames(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "connected to tool host with %d tool(s): %s\n", len(names), strings.Join(names, ", "))

	if !config.Interactive {
		answer, err := session.Ask(ctx, config.Prompt)
		fmt.Println(answer)
		return err
	}
	return cli.RunInteractive(os.Stdin, os.Stdout, os.Stderr, func(input string) (string, error) {
		return session.Ask(ctx, input)
	})
}

func runServe(ctx context.Context, config cli.ServeConfig) error {
	logger, err := newLogger(config.CommonConfig)
	if err != nil {
		return err
	}
	defer logger.Close()

	settings, err := appcore.ResolveSettings(logger)
	if err != nil {
		return err
	}
	return appcore.RunServe(ctx, settings, appcore.ServeOptions{
		WorkDir:       config.WorkDir,
		BattleWorkers: config.BattleWorkers,
		BattleTimeout: config.BattleTimeout,
		QueryTimeout:  config.QueryTimeout,
	}, logger)
}

func runBattle(ctx context.Context, config cli.BattleConfig) error {
	logger, err := newLogger(config.CommonConfig)
	if err != nil {
		return err
	}
	defer logger.Close()

	settings, err := appcore.ResolveSettings(logger)
	if err != nil {
		return err
	}
	llmConfig, err := settings.LLMConfig()
	if err != nil {
		return err
	}

	models := config.Models
	if len(models) == 0 {
		models = settings.Battle.Models
	}
	_, err = appcore.RunBattle(ctx, appcore.NewLLMClient(llmConfig), appcore.BattleOptions{
		Question:   config.Question,
		Models:     models,
		Rounds:     config.Rounds,
		RoundDelay: config.RoundDelay,
		Out:        config.Out,
	}, os.Stdout, logger)
	return err
}
