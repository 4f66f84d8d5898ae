package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adriankopytko/toolchat/internal/battle"
)

type Handlers struct {
	Chat   func(ctx context.Context, config ChatConfig) error
	Serve  func(ctx context.Context, config ServeConfig) error
	Battle func(ctx context.Context, config BattleConfig) error
}

var errNoHandler = errors.New("command is not wired")

// NewRootCommand builds the toolchat command tree. Flag defaults come from
// envLookup so the environment can preset every option.
func NewRootCommand(envLookup func(string) string, handlers Handlers) *cobra.Command {
	var common CommonConfig
	rootCmd := &cobra.Command{
		Use:   "toolchat",
		Short: "Tool-calling chat assistant and model battle runner",
		Long: `toolchat answers questions with an LLM that can call tools hosted by a
separate tool server, and can pit several models against each other in
peer-scored battles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindLogFlags(rootCmd.PersistentFlags(), envLookup, &common)

	rootCmd.AddCommand(newChatCommand(envLookup, &common, handlers.Chat))
	rootCmd.AddCommand(newServeCommand(envLookup, &common, handlers.Serve))
	rootCmd.AddCommand(newBattleCommand(envLookup, &common, handlers.Battle))
	return rootCmd
}

func bindLogFlags(flags *pflag.FlagSet, envLookup func(string) string, common *CommonConfig) {
	flags.BoolVar(&common.LogEnabled, "log-enabled", parseBoolEnvLookup(envLookup("LOG_ENABLED"), false), "Enable logging output")
	flags.StringVar(&common.LogLevel, "log-level", stringEnvLookup(envLookup("LOG_LEVEL"), "info"), "Log level: error, warn, info, debug")
	flags.StringVar(&common.LogSink, "log-sink", stringEnvLookup(envLookup("TOOLCHAT_LOG_SINK"), "stderr"), "Log sink: stderr, stdout, json-file")
	flags.StringVar(&common.LogFile, "log-file", stringEnvLookup(envLookup("TOOLCHAT_LOG_FILE"), ""), "Path for json-file log sink output")
}

func newChatCommand(envLookup func(string) string, common *CommonConfig, run func(context.Context, ChatConfig) error) *cobra.Command {
	var config ChatConfig
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask the assistant a question, once or interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.CommonConfig = *common
			if err := validateChat(config); err != nil {
				return err
			}
			if run == nil {
				return errNoHandler
			}
			return run(cmd.Context(), config)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&config.Prompt, "prompt", "p", "", "Question to answer and exit")
	flags.BoolVar(&config.Interactive, "interactive", false, "Read questions from stdin until :quit")
	flags.StringVar(&config.Server, "server", stringEnvLookup(envLookup("TOOLCHAT_SERVER"), ""), "Tool host transport spec (default: this binary's serve command over stdio)")
	flags.DurationVar(&config.TurnTimeout, "turn-timeout", parseDurationEnvLookup(envLookup("TOOLCHAT_TURN_TIMEOUT"), 90*time.Second), "Maximum duration per query (e.g. 90s, 2m)")
	flags.DurationVar(&config.ToolTimeout, "tool-timeout", parseDurationEnvLookup(envLookup("TOOLCHAT_TOOL_TIMEOUT"), 30*time.Second), "Maximum duration per tool call")
	flags.IntVar(&config.MaxToolRounds, "max-tool-rounds", parseIntEnvLookup(envLookup("TOOLCHAT_MAX_TOOL_ROUNDS"), 1), "Tool dispatch rounds per query")
	cmd.MarkFlagsMutuallyExclusive("prompt", "interactive")
	return cmd
}

func newServeCommand(envLookup func(string) string, common *CommonConfig, run func(context.Context, ServeConfig) error) *cobra.Command {
	var config ServeConfig
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.CommonConfig = *common
			if err := validateServe(config); err != nil {
				return err
			}
			if run == nil {
				return errNoHandler
			}
			return run(cmd.Context(), config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.WorkDir, "work-dir", stringEnvLookup(envLookup("TOOLCHAT_WORK_DIR"), "."), "Directory file tools are confined to")
	flags.IntVar(&config.BattleWorkers, "battle-workers", parseIntEnvLookup(envLookup("TOOLCHAT_BATTLE_WORKERS"), 1), "Battles that may run at once")
	flags.DurationVar(&config.BattleTimeout, "battle-timeout", parseDurationEnvLookup(envLookup("TOOLCHAT_BATTLE_TIMEOUT"), 120*time.Second), "Maximum duration per battle, including the wait for a worker")
	flags.DurationVar(&config.QueryTimeout, "query-timeout", parseDurationEnvLookup(envLookup("TOOLCHAT_QUERY_TIMEOUT"), 30*time.Second), "Maximum duration per SQL query")
	return cmd
}

func newBattleCommand(envLookup func(string) string, common *CommonConfig, run func(context.Context, BattleConfig) error) *cobra.Command {
	var config BattleConfig
	cmd := &cobra.Command{
		Use:   "battle",
		Short: "Have several models answer and score each other",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.CommonConfig = *common
			if err := validateBattle(config); err != nil {
				return err
			}
			if run == nil {
				return errNoHandler
			}
			return run(cmd.Context(), config)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&config.Question, "question", "q", "", "Question every model answers")
	flags.StringSliceVar(&config.Models, "models", nil, "Comma-separated competing models (default from settings)")
	flags.IntVar(&config.Rounds, "rounds", battle.DefaultRounds, "Number of rounds")
	flags.DurationVar(&config.RoundDelay, "round-delay", battle.DefaultRoundDelay, "Pause between rounds")
	flags.StringVar(&config.Out, "out", battle.DefaultResultFile, "Path of the saved result document")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
