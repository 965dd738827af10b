package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for pixbot.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Slack   SlackConfig   `json:"slack" yaml:"slack"`
	Gemini  GeminiConfig  `json:"gemini" yaml:"gemini"`
	Dedup   DedupConfig   `json:"dedup" yaml:"dedup"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel" yaml:"logLevel"`
	LogFile     string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	Environment string `json:"environment" yaml:"environment"`             // tag attached to every log line
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	EventsPath string `json:"eventsPath" yaml:"eventsPath"` // default: /slack/events
}

// SlackConfig holds the Slack credentials and per-workspace behavior.
type SlackConfig struct {
	SigningSecret string `json:"signingSecret" yaml:"signingSecret"`
	BotToken      string `json:"botToken" yaml:"botToken"` // xoxb-...
	Reaction      string `json:"reaction" yaml:"reaction"` // processing marker, e.g. "eyes"
	DebugUpload   bool   `json:"debugUpload" yaml:"debugUpload"`
}

// GeminiConfig configures the generative image provider.
type GeminiConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// DedupConfig configures the TTL key store used for event deduplication.
type DedupConfig struct {
	DBPath     string `json:"dbPath" yaml:"dbPath"`
	TTLSeconds int    `json:"ttlSeconds" yaml:"ttlSeconds"`
	CacheSize  int    `json:"cacheSize" yaml:"cacheSize"` // in-process LRU front cache entries
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.pixbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pixbot"
	}
	return filepath.Join(home, ".pixbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, parses, and validates a config file. Files
// ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Dedup.DBPath = ExpandPath(cfg.Dedup.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.EventsPath, "/") {
		errs = append(errs, "server.eventsPath must start with /")
	}
	if cfg.Dedup.TTLSeconds < 1 {
		errs = append(errs, "dedup.ttlSeconds must be >= 1")
	}
	if cfg.Dedup.CacheSize < 1 {
		errs = append(errs, "dedup.cacheSize must be >= 1")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Slack.Reaction != "" && strings.ContainsAny(cfg.Slack.Reaction, ": ") {
		errs = append(errs, "slack.reaction must be a bare emoji name without colons")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a deep copy with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	copy.Slack.SigningSecret = maskString(copy.Slack.SigningSecret)
	copy.Slack.BotToken = maskString(copy.Slack.BotToken)
	copy.Gemini.APIKey = maskString(copy.Gemini.APIKey)
	return &copy
}

func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
