package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	envConfigFile = "CHATDESK_CONFIG"

	DefaultConfigFile        = "chatdesk.toml"
	DefaultRecursionLimit    = 100
	DefaultMaxRecursionLimit = 1000
)

type Config struct {
	Host         string       `toml:"host"`
	Port         string       `toml:"port"`
	DataDir      string       `toml:"data_dir"`
	WorkspaceDir string       `toml:"workspace_dir"`
	APIKey       string       `toml:"api_key"`
	DatabaseURL  string       `toml:"database_url"`
	Log          LogConfig    `toml:"log"`
	Model        ModelConfig  `toml:"model"`
	Agent        AgentConfig  `toml:"agent"`
	Search       SearchConfig `toml:"search"`
	HTTP         HTTPConfig   `toml:"http"`
	Source       string       `toml:"-"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type ModelConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxTokens      int    `toml:"max_tokens"`
	SystemPrompt   string `toml:"system_prompt"`
}

type AgentConfig struct {
	RecursionLimit     int      `toml:"recursion_limit"`
	MaxRecursionLimit  int      `toml:"max_recursion_limit"`
	ToolTimeoutSeconds int      `toml:"tool_timeout_seconds"`
	Tools              []string `toml:"tools"`
}

type SearchConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	MaxResults int    `toml:"max_results"`
}

type HTTPConfig struct {
	ReadHeaderTimeoutSeconds int `toml:"read_header_timeout_seconds"`
	ReadTimeoutSeconds       int `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int `toml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int `toml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds   int `toml:"shutdown_timeout_seconds"`
}

func Default() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         "8088",
		DataDir:      ".data",
		WorkspaceDir: "workspace",
		Log: LogConfig{
			Level:  "info",
			Format: "plain",
		},
		Model: ModelConfig{
			Provider:       "demo",
			TimeoutSeconds: 120,
			MaxTokens:      4096,
			SystemPrompt:   "You are a helpful assistant working inside the user's document workspace. Use the available tools when they help answer the request.",
		},
		Agent: AgentConfig{
			RecursionLimit:     DefaultRecursionLimit,
			MaxRecursionLimit:  DefaultMaxRecursionLimit,
			ToolTimeoutSeconds: 60,
			Tools:              []string{"web_search", "read_file"},
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
		HTTP: HTTPConfig{
			ReadHeaderTimeoutSeconds: 10,
			ReadTimeoutSeconds:       120,
			WriteTimeoutSeconds:      0,
			IdleTimeoutSeconds:       120,
			ShutdownTimeoutSeconds:   30,
		},
	}
}

// Load builds the config from defaults, the optional TOML file and CHATDESK_* env overrides.
func Load() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv(envConfigFile))
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	readString("CHATDESK_HOST", &cfg.Host)
	readString("CHATDESK_PORT", &cfg.Port)
	readString("CHATDESK_DATA_DIR", &cfg.DataDir)
	readString("CHATDESK_WORKSPACE_DIR", &cfg.WorkspaceDir)
	readString("CHATDESK_API_KEY", &cfg.APIKey)
	readString("CHATDESK_DATABASE_URL", &cfg.DatabaseURL)

	readString("CHATDESK_LOG_LEVEL", &cfg.Log.Level)
	readString("CHATDESK_LOG_FORMAT", &cfg.Log.Format)
	readString("CHATDESK_LOG_FILE", &cfg.Log.File)

	readString("CHATDESK_PROVIDER", &cfg.Model.Provider)
	readString("CHATDESK_MODEL", &cfg.Model.Model)
	readString("CHATDESK_MODEL_API_KEY", &cfg.Model.APIKey)
	readString("CHATDESK_MODEL_BASE_URL", &cfg.Model.BaseURL)
	readString("CHATDESK_SYSTEM_PROMPT", &cfg.Model.SystemPrompt)
	readInt("CHATDESK_MODEL_TIMEOUT", &cfg.Model.TimeoutSeconds, false)
	readInt("CHATDESK_MAX_TOKENS", &cfg.Model.MaxTokens, false)

	readInt("CHATDESK_RECURSION_LIMIT", &cfg.Agent.RecursionLimit, false)
	readInt("CHATDESK_MAX_RECURSION_LIMIT", &cfg.Agent.MaxRecursionLimit, false)
	readInt("CHATDESK_TOOL_TIMEOUT", &cfg.Agent.ToolTimeoutSeconds, false)
	if raw, ok := os.LookupEnv("CHATDESK_TOOLS"); ok {
		cfg.Agent.Tools = splitList(raw)
	}

	readString("CHATDESK_SEARCH_URL", &cfg.Search.URL)
	readString("CHATDESK_SEARCH_API_KEY", &cfg.Search.APIKey)

	readInt("CHATDESK_HTTP_READ_HEADER_TIMEOUT", &cfg.HTTP.ReadHeaderTimeoutSeconds, false)
	readInt("CHATDESK_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeoutSeconds, false)
	readInt("CHATDESK_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeoutSeconds, true)
	readInt("CHATDESK_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeoutSeconds, false)
	readInt("CHATDESK_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeoutSeconds, false)
}

func (c Config) validate() error {
	if c.Agent.RecursionLimit <= 0 {
		return fmt.Errorf("agent.recursion_limit must be positive, got %d", c.Agent.RecursionLimit)
	}
	if c.Agent.MaxRecursionLimit < c.Agent.RecursionLimit {
		return fmt.Errorf("agent.max_recursion_limit (%d) is below agent.recursion_limit (%d)", c.Agent.MaxRecursionLimit, c.Agent.RecursionLimit)
	}
	if strings.TrimSpace(c.WorkspaceDir) == "" {
		return errors.New("workspace_dir is required")
	}
	return nil
}

func (c Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSeconds) * time.Second
}

// DefaultToolPreferences is applied when a request carries no toolPreferences.
func (c Config) DefaultToolPreferences() map[string]bool {
	out := make(map[string]bool, len(c.Agent.Tools))
	for _, name := range c.Agent.Tools {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}
	return out
}

func readString(key string, dst *string) {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		*dst = raw
	}
}

// readInt keeps the current value when the env var is malformed, negative, or zero without allowZero.
func readInt(key string, dst *int, allowZero bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return
	}
	*dst = n
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
