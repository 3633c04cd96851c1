package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:       "~/.nanobot/workspace",
			LogLevel:        "info",
			MaxTurns:        10,
			HistoryLimit:    50,
			DefaultProvider: "openrouter",
			MaxSubagents:    3,
		},
		Providers: map[string]ProviderConfig{
			"openrouter": {
				Enabled:      true,
				Kind:         "openai",
				APIBase:      "https://openrouter.ai/api/v1",
				APIKey:       "${OPENROUTER_API_KEY:-}",
				DefaultModel: "anthropic/claude-sonnet-4",
			},
			"anthropic": {
				Enabled:      false,
				Kind:         "anthropic",
				APIBase:      "https://api.anthropic.com",
				APIKey:       "${ANTHROPIC_API_KEY:-}",
				DefaultModel: "claude-sonnet-4-20250514",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8098,
				Path:    "/webhook",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Browser: BrowserConfig{
			Enabled:                 true,
			RelayPort:               18792,
			CommandTimeoutSeconds:   30,
			FailPendingOnDisconnect: false,
		},
		Memory: MemoryConfig{
			DBPath:       "~/.nanobot/nanobot.db",
			HistoryLimit: 100,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:             60,
				MaxOutputBytes:      65536,
				RestrictToWorkspace: true,
			},
			Web: WebToolConfig{
				MaxFetchBytes: 102400,
			},
		},
		Cron: CronConfig{
			Enabled:   true,
			StorePath: "~/.nanobot/cron.json",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
		},
	}
}
