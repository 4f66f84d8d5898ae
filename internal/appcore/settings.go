package appcore

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen-max"
)

// Settings holds the values resolved from defaults, an optional toolchat.yaml
// and the environment, in increasing priority.
type Settings struct {
	APIKey   string           `mapstructure:"api_key"`
	BaseURL  string           `mapstructure:"base_url"`
	Model    string           `mapstructure:"model"`
	Database DatabaseSettings `mapstructure:"db"`
	Battle   BattleSettings   `mapstructure:"battle"`
}

type DatabaseSettings struct {
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
}

type BattleSettings struct {
	Models          []string `mapstructure:"models"`
	SupportedModels []string `mapstructure:"supported_models"`
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

var envBindings = map[string]string{
	"api_key":                 "DASHSCOPE_API_KEY",
	"base_url":                "TOOLCHAT_BASE_URL",
	"model":                   "TOOLCHAT_MODEL",
	"db.dsn":                  "TOOLCHAT_DB_DSN",
	"db.user":                 "DB_USER",
	"db.password":             "DB_PASSWORD",
	"db.host":                 "DB_HOST",
	"db.port":                 "DB_PORT",
	"db.name":                 "DB_NAME",
	"battle.models":           "TOOLCHAT_BATTLE_MODELS",
	"battle.supported_models": "TOOLCHAT_BATTLE_SUPPORTED_MODELS",
}

// ResolveSettings reads toolchat.yaml from the first of configDirs that has
// one (the working directory and $HOME/.toolchat when none are given) and
// overlays the bound environment variables.
func ResolveSettings(logger Logger, configDirs ...string) (Settings, error) {
	v := viper.New()
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "shiji_app")

	for key, envVar := range envBindings {
		if err := v.BindEnv(key, envVar); err != nil {
			logger.Warnf("failed to bind environment variable %s for %s: %v", envVar, key, err)
		}
	}

	v.SetConfigName("toolchat")
	v.SetConfigType("yaml")
	if len(configDirs) == 0 {
		configDirs = []string{".", "$HOME/.toolchat"}
	}
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Debugf("config file not found, using environment variables and defaults")
	} else {
		logger.Debugf("using config file: %s", v.ConfigFileUsed())
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("unable to decode settings: %w", err)
	}
	settings.APIKey = strings.TrimSpace(settings.APIKey)
	settings.BaseURL = strings.TrimSpace(settings.BaseURL)
	settings.Model = strings.TrimSpace(settings.Model)
	settings.Battle.Models = cleanList(settings.Battle.Models)
	settings.Battle.SupportedModels = cleanList(settings.Battle.SupportedModels)

	logger.Debugf("settings resolved (model=%s base_url=%s db_host=%s)", settings.Model, settings.BaseURL, settings.Database.Host)
	return settings, nil
}

// LLMConfig returns the gateway settings; a missing API key is an error.
func (settings Settings) LLMConfig() (LLMConfig, error) {
	if settings.APIKey == "" {
		return LLMConfig{}, errors.New("missing API key: set DASHSCOPE_API_KEY")
	}
	return LLMConfig{APIKey: settings.APIKey, BaseURL: settings.BaseURL, Model: settings.Model}, nil
}

// ConnString returns the explicit DSN or one assembled from the parts.
func (database DatabaseSettings) ConnString() string {
	if dsn := strings.TrimSpace(database.DSN); dsn != "" {
		return dsn
	}
	if strings.TrimSpace(database.Host) == "" {
		return ""
	}

	dsn := url.URL{Scheme: "postgres", Path: "/" + database.Name}
	dsn.Host = database.Host
	if database.Port > 0 {
		dsn.Host = net.JoinHostPort(database.Host, strconv.Itoa(database.Port))
	}
	switch {
	case database.User != "" && database.Password != "":
		dsn.User = url.UserPassword(database.User, database.Password)
	case database.User != "":
		dsn.User = url.User(database.User)
	}
	return dsn.String()
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cleaned = append(cleaned, part)
			}
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}
