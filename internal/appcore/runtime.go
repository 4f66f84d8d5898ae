package appcore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/xid"

	"github.com/adriankopytko/toolchat/internal/llm"
)

const (
	ClientName    = "toolchat"
	ClientVersion = "0.1.0"
)

var DefaultEnvFiles = []string{".env", ".env.local"}

func LoadEnvFilesIfPresent(paths []string, logger Logger) {
	for _, path := range paths {
		_, statErr := os.Stat(path)
		if statErr != nil {
			if !errors.Is(statErr, os.ErrNotExist) {
				logger.Warnf("failed to check env file %s: %v", path, statErr)
				fmt.Fprintf(os.Stderr, "warning: failed to check env file %s: %v\n", path, statErr)
			}
			continue
		}

		if err := godotenv.Load(path); err != nil {
			logger.Warnf("failed to load env file %s: %v", path, err)
			fmt.Fprintf(os.Stderr, "warning: failed to load env file %s: %v\n", path, err)
		} else {
			logger.Debugf("loaded env file: %s", path)
		}
	}
}

// NewLLMClient builds the gateway against the configured OpenAI-compatible
// endpoint.
func NewLLMClient(config LLMConfig) llm.Client {
	return llm.NewOpenAIClient(config.APIKey, config.BaseURL)
}

// DefaultServerSpec launches this executable's serve command over stdio.
func DefaultServerSpec() (string, error) {
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if strings.ContainsAny(executable, " \t") {
		return "", fmt.Errorf("executable path %q contains whitespace; pass --server explicitly", executable)
	}
	return "stdio://" + executable + " serve", nil
}

func NewCorrelationID() string {
	return "corr-" + xid.New().String()
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
