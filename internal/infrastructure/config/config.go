package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/paths"
)

// FileEnv names the optional settings file
const FileEnv = "AGENTTERM_CONFIG"

// Config holds all application configuration.
type Config struct {
	Host        HostConfig
	Interceptor InterceptorConfig
	Completion  CompletionConfig
	Logging     LogConfig
	Watch       WatchConfig
	RateLimit   RateLimitConfig
}

// HostConfig holds host daemon configuration.
type HostConfig struct {
	Socket        string        `envconfig:"AGENTTERM_HOST_SOCKET"`
	StatusAddr    string        `envconfig:"AGENTTERM_STATUS_ADDR" default:"127.0.0.1:7878"`
	StatusEnabled bool          `envconfig:"AGENTTERM_STATUS_ENABLED" default:"true"`
	SessionTTL    time.Duration `envconfig:"AGENTTERM_SESSION_TTL" default:"600s"`
	WindowQueue   int           `envconfig:"AGENTTERM_WINDOW_QUEUE" default:"64"`
	HistoryLimit  int           `envconfig:"AGENTTERM_HISTORY_LIMIT" default:"1000"`
	HistoryFile   string        `envconfig:"AGENTTERM_HISTORY_FILE"`
}

// InterceptorConfig holds per-tab interceptor configuration.
type InterceptorConfig struct {
	Shell          string        `envconfig:"AGENTTERM_SHELL"`
	SessionID      string        `envconfig:"AGENTTERM_SESSION_ID"`
	ReconnectDelay time.Duration `envconfig:"AGENTTERM_RECONNECT_DELAY" default:"2s"`
	HookBuffer     int           `envconfig:"AGENTTERM_HOOK_BUFFER" default:"256"`
	ScrollbackSize int           `envconfig:"AGENTTERM_SCROLLBACK_BYTES" default:"262144"`
}

// CompletionConfig holds remote completion backend configuration.
type CompletionConfig struct {
	Endpoint          string        `envconfig:"AGENTTERM_COMPLETION_URL"`
	APIKey            string        `envconfig:"AGENTTERM_COMPLETION_API_KEY"`
	Timeout           time.Duration `envconfig:"AGENTTERM_COMPLETION_TIMEOUT" default:"5s"`
	RequestsPerSecond float64       `envconfig:"AGENTTERM_COMPLETION_RPS" default:"2"`
	Burst             int           `envconfig:"AGENTTERM_COMPLETION_BURST" default:"4"`
	MaxAttempts       int           `envconfig:"AGENTTERM_COMPLETION_ATTEMPTS" default:"3"`
	RetryWindow       time.Duration `envconfig:"AGENTTERM_COMPLETION_RETRY_WINDOW" default:"2s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"AGENTTERM_LOG_FILE"`
}

// WatchConfig holds file watcher configuration.
type WatchConfig struct {
	Dirs     []string `envconfig:"AGENTTERM_WATCH_DIRS"`
	Patterns []string `envconfig:"AGENTTERM_WATCH_PATTERNS" default:"**/*"`
}

// RateLimitConfig holds status server rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from the optional settings file and environment
// variables. Environment variables win over file entries, file entries win
// over defaults.
func Load() (*Config, error) {
	restore, err := applyFile(os.Getenv(FileEnv))
	if err != nil {
		return nil, err
	}
	defer restore()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.fillPaths()
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Host: HostConfig{
			StatusAddr:    "127.0.0.1:7878",
			StatusEnabled: true,
			SessionTTL:    600 * time.Second,
			WindowQueue:   64,
			HistoryLimit:  1000,
		},
		Interceptor: InterceptorConfig{
			ReconnectDelay: 2 * time.Second,
			HookBuffer:     256,
			ScrollbackSize: 256 << 10,
		},
		Completion: CompletionConfig{
			Timeout:           5 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
			MaxAttempts:       3,
			RetryWindow:       2 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Watch: WatchConfig{
			Patterns: []string{"**/*"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
	cfg.fillPaths()
	return cfg
}

func (c *Config) fillPaths() {
	if c.Host.Socket == "" {
		c.Host.Socket = paths.HostSocket()
	}
}

// applyFile exports the entries of a flat TOML settings file as environment
// variables that are not already set, and returns a func undoing that.
//
//	AGENTTERM_STATUS_ADDR = "127.0.0.1:9000"
//	AGENTTERM_WATCH_DIRS = ["/home/me/src"]
//	LOG_LEVEL = "debug"
func applyFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var entries map[string]any
	if err := toml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var exported []string
	restore := func() {
		for _, key := range exported {
			os.Unsetenv(key)
		}
	}
	for key, raw := range entries {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		value, err := envValue(raw)
		if err != nil {
			restore()
			return nil, fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
		os.Setenv(key, value)
		exported = append(exported, key)
	}
	return restore, nil
}

func envValue(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case int64, float64, bool:
		return fmt.Sprint(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := envValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", raw)
	}
}
