package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for nanobot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Browser   BrowserConfig             `json:"browser"`
	Memory    MemoryConfig              `json:"memory"`
	Tools     ToolsConfig               `json:"tools"`
	Cron      CronConfig                `json:"cron"`
	Heartbeat HeartbeatConfig           `json:"heartbeat"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Workspace       string `json:"workspace"`
	LogLevel        string `json:"logLevel"`
	MaxTurns        int    `json:"maxTurns"`        // model/tool iterations per message
	HistoryLimit    int    `json:"historyLimit"`    // prior turns loaded into the transcript
	DefaultProvider string `json:"defaultProvider"`
	MaxSubagents    int    `json:"maxSubagents"` // concurrent background tasks
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Kind         string `json:"kind"` // "openai" | "anthropic"
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	Webhook  WebhookConfig  `json:"webhook,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// WebhookConfig configures the generic JSON webhook channel. Inbound messages
// arrive as signed POSTs on Path; replies go out as POSTs to ReplyURL.
type WebhookConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Path     string `json:"path"`
	Secret   string `json:"secret,omitempty"` // HMAC-SHA256 signature key
	ReplyURL string `json:"replyUrl,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// BrowserConfig configures the extension relay used by the browser_use tool.
type BrowserConfig struct {
	Enabled                 bool `json:"enabled"`
	RelayPort               int  `json:"relayPort"`
	CommandTimeoutSeconds   int  `json:"commandTimeoutSeconds"`
	FailPendingOnDisconnect bool `json:"failPendingOnDisconnect"` // default: let in-flight commands time out
}

type MemoryConfig struct {
	DBPath       string `json:"dbPath"`
	HistoryLimit int    `json:"historyLimit"` // max turns returned per session query
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
	Web   WebToolConfig   `json:"web"`
}

type ShellToolConfig struct {
	Timeout             int  `json:"timeout"` // seconds
	MaxOutputBytes      int  `json:"maxOutputBytes"`
	RestrictToWorkspace bool `json:"restrictToWorkspace"`
}

type WebToolConfig struct {
	SearchAPIKey  string `json:"searchApiKey,omitempty"` // Brave Search API key
	MaxFetchBytes int    `json:"maxFetchBytes"`
}

type CronConfig struct {
	Enabled   bool      `json:"enabled"`
	StorePath string    `json:"storePath,omitempty"` // runtime-added jobs persist here
	Jobs      []CronJob `json:"jobs,omitempty"`
}

// CronJob injects Message into the agent on Schedule (standard cron syntax,
// or @every / @hourly style descriptors).
type CronJob struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chatId"`
	Enabled  bool   `json:"enabled"`
}

type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	Channel         string `json:"channel"`
	ChatID          string `json:"chatId"`
}

// MetricsConfig configures the Prometheus-format metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // listen address, e.g. "127.0.0.1:9091"
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.nanobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nanobot"
	}
	return filepath.Join(home, ".nanobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Cron.StorePath = ExpandPath(cfg.Cron.StorePath)

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
			return match
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

	if cfg.General.MaxTurns < 1 || cfg.General.MaxTurns > 100 {
		errs = append(errs, "general.maxTurns must be between 1 and 100")
	}
	if cfg.General.HistoryLimit < 1 {
		errs = append(errs, "general.historyLimit must be >= 1")
	}
	if cfg.General.MaxSubagents < 1 {
		errs = append(errs, "general.maxSubagents must be >= 1")
	}

	if cfg.Browser.RelayPort < 1 || cfg.Browser.RelayPort > 65535 {
		errs = append(errs, "browser.relayPort must be between 1 and 65535")
	}
	if cfg.Browser.CommandTimeoutSeconds < 1 {
		errs = append(errs, "browser.commandTimeoutSeconds must be >= 1")
	}

	if cfg.Channels.Webhook.Enabled {
		if cfg.Channels.Webhook.Port < 1 || cfg.Channels.Webhook.Port > 65535 {
			errs = append(errs, "channels.webhook.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(cfg.Channels.Webhook.Path, "/") {
			errs = append(errs, "channels.webhook.path must start with /")
		}
	}

	if cfg.Memory.HistoryLimit < 1 {
		errs = append(errs, "memory.historyLimit must be >= 1")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch pc.Kind {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be openai or anthropic", name))
		}
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}

	for i, job := range cfg.Cron.Jobs {
		if job.Schedule == "" || job.Message == "" {
			errs = append(errs, fmt.Sprintf("cron.jobs[%d]: schedule and message are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
