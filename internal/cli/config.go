package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type CommonConfig struct {
	LogEnabled bool
	LogLevel   string
	LogSink    string
	LogFile    string
}

type ChatConfig struct {
	CommonConfig
	Prompt        string
	Interactive   bool
	Server        string
	TurnTimeout   time.Duration
	ToolTimeout   time.Duration
	MaxToolRounds int
}

type ServeConfig struct {
	CommonConfig
	WorkDir       string
	BattleWorkers int
	BattleTimeout time.Duration
	QueryTimeout  time.Duration
}

type BattleConfig struct {
	CommonConfig
	Question   string
	Models     []string
	Rounds     int
	RoundDelay time.Duration
	Out        string
}

func validateCommon(config CommonConfig) error {
	switch strings.ToLower(strings.TrimSpace(config.LogLevel)) {
	case "", "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("invalid value for --log-level: %q (use: error, warn, info, debug)", config.LogLevel)
	}

	switch sink := strings.ToLower(strings.TrimSpace(config.LogSink)); sink {
	case "", "stderr", "stdout", "json-file":
		if sink == "json-file" && strings.TrimSpace(config.LogFile) == "" {
			return fmt.Errorf("invalid value for --log-file: required when --log-sink=json-file")
		}
		return nil
	default:
		return fmt.Errorf("invalid value for --log-sink: %q (use: stderr, stdout, json-file)", config.LogSink)
	}
}

func validateChat(config ChatConfig) error {
	if err := validateCommon(config.CommonConfig); err != nil {
		return err
	}
	if strings.TrimSpace(config.Prompt) == "" && !config.Interactive {
		return fmt.Errorf("either --prompt or --interactive is required")
	}
	if config.TurnTimeout <= 0 {
		return fmt.Errorf("invalid value for --turn-timeout: must be > 0")
	}
	if config.ToolTimeout <= 0 {
		return fmt.Errorf("invalid value for --tool-timeout: must be > 0")
	}
	if config.MaxToolRounds < 1 {
		return fmt.Errorf("invalid value for --max-tool-rounds: must be >= 1")
	}
	return nil
}

func validateServe(config ServeConfig) error {
	if err := validateCommon(config.CommonConfig); err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(config.LogSink), "stdout") {
		return fmt.Errorf("invalid value for --log-sink: stdout carries the protocol in serve mode")
	}
	if strings.TrimSpace(config.WorkDir) == "" {
		return fmt.Errorf("invalid value for --work-dir: must not be empty")
	}
	if config.BattleWorkers < 1 {
		return fmt.Errorf("invalid value for --battle-workers: must be >= 1")
	}
	if config.BattleTimeout <= 0 {
		return fmt.Errorf("invalid value for --battle-timeout: must be > 0")
	}
	if config.QueryTimeout <= 0 {
		return fmt.Errorf("invalid value for --query-timeout: must be > 0")
	}
	return nil
}

func validateBattle(config BattleConfig) error {
	if err := validateCommon(config.CommonConfig); err != nil {
		return err
	}
	if strings.TrimSpace(config.Question) == "" {
		return fmt.Errorf("invalid value for --question: must not be empty")
	}
	if config.Rounds < 1 {
		return fmt.Errorf("invalid value for --rounds: must be >= 1")
	}
	if config.RoundDelay < 0 {
		return fmt.Errorf("invalid value for --round-delay: must be >= 0")
	}
	return nil
}

func parseBoolEnvLookup(value string, fallback bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseDurationEnvLookup(value string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseIntEnvLookup(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func stringEnvLookup(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
