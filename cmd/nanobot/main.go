package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"nanobot/internal/agent"
	"nanobot/internal/browser"
	"nanobot/internal/bus"
	"nanobot/internal/channel"
	"nanobot/internal/config"
	"nanobot/internal/cron"
	"nanobot/internal/domain"
	"nanobot/internal/memory"
	"nanobot/internal/metrics"
	"nanobot/internal/provider"
	"nanobot/internal/tool"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "nanobot",
		Short: "nanobot: a small agent runtime for your chat apps",
		Long: "nanobot runs an LLM agent loop behind Telegram, Discord, Slack, webhooks\n" +
			"and the terminal, with tools for files, shell, web and the browser relay.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.nanobot/config.json)")

	root.AddCommand(onboardCmd())
	root.AddCommand(runCommand())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(skillCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadOrDefaults loads the config, falling back to defaults with expanded
// paths and environment substitution when the file is missing.
func loadOrDefaults(cfgPath string) *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not loaded, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
		cfg.Cron.StorePath = config.ExpandPath(cfg.Cron.StorePath)
		for name, pc := range cfg.Providers {
			pc.APIKey = config.ExpandEnvVars(pc.APIKey)
			cfg.Providers[name] = pc
		}
	}
	return cfg
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent with all enabled channels",
		Long: "Starts the session store, tools, cron, browser relay and every enabled\n" +
			"channel, then runs the agent loop until interrupted.",
		RunE: runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg := loadOrDefaults(cfgPath)
	logger = newLogger(cfg.General.LogLevel)

	workspace := cfg.General.Workspace
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.DefaultProvider()
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if hc, ok := prov.(provider.HealthChecker); ok {
		if err := hc.Healthy(ctx); err != nil {
			logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
		} else {
			logger.Info("provider ready", "provider", prov.Name(), "model", prov.DefaultModel())
		}
	}

	var relay *browser.Relay
	if cfg.Browser.Enabled {
		relay = browser.NewRelay(browser.Config{
			Port:                    cfg.Browser.RelayPort,
			CommandTimeout:          time.Duration(cfg.Browser.CommandTimeoutSeconds) * time.Second,
			FailPendingOnDisconnect: cfg.Browser.FailPendingOnDisconnect,
			Logger:                  logger,
		})
		relay.Start(ctx)
		defer relay.Stop()
	}

	var cronSvc *cron.Service
	if cfg.Cron.Enabled {
		cronSvc = cron.NewService(cron.Config{
			StorePath: cfg.Cron.StorePath,
			Bus:       messageBus,
			Logger:    logger,
		})
		seedCronJobs(cronSvc, cfg.Cron.Jobs)
		cronSvc.Start()
		defer cronSvc.Stop()
	}

	shellCfg := tool.ShellConfig{
		Workspace:           workspace,
		TimeoutSeconds:      cfg.Tools.Shell.Timeout,
		MaxOutputBytes:      cfg.Tools.Shell.MaxOutputBytes,
		RestrictToWorkspace: cfg.Tools.Shell.RestrictToWorkspace,
	}

	subagents := agent.NewSubagentManager(agent.SubagentConfig{
		Provider:      prov,
		Bus:           messageBus,
		Workspace:     workspace,
		Shell:         shellCfg,
		SearchAPIKey:  cfg.Tools.Web.SearchAPIKey,
		FetchMaxBytes: int64(cfg.Tools.Web.MaxFetchBytes),
		MaxConcurrent: cfg.General.MaxSubagents,
		MaxTurns:      cfg.General.MaxTurns,
		Logger:        logger,
	})

	registry := registerTools(cfg, messageBus, relay, cronSvc, subagents, shellCfg)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:     prov,
		Bus:          messageBus,
		Store:        store,
		Tools:        registry,
		Builder:      agent.NewContextBuilder(workspace, logger),
		Logger:       logger,
		MaxTurns:     cfg.General.MaxTurns,
		HistoryLimit: cfg.General.HistoryLimit,
	})
	go loop.Run(ctx)

	heartbeat := agent.NewHeartbeat(agent.HeartbeatConfig{
		Enabled:         cfg.Heartbeat.Enabled,
		IntervalMinutes: cfg.Heartbeat.IntervalMinutes,
		Channel:         cfg.Heartbeat.Channel,
		ChatID:          cfg.Heartbeat.ChatID,
		Workspace:       workspace,
		Logger:          logger,
	}, messageBus)
	go heartbeat.Start(ctx)

	stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	manager := channel.NewManager(messageBus, logger)
	registerChannels(manager, cfg)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	logger.Info("nanobot running", "version", version, "channels", strings.Join(manager.Names(), ","))
	<-ctx.Done()
	logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := manager.Stop(); err != nil {
			logger.Warn("channel shutdown", "err", err)
		}
		subagents.Shutdown()
		messageBus.Close()
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}

// registerTools builds the agent's tool registry. The subagent manager keeps
// its own restricted registry; this is the full set.
func registerTools(cfg *config.Config, messageBus domain.MessageBus, relay *browser.Relay, cronSvc *cron.Service, subagents *agent.SubagentManager, shellCfg tool.ShellConfig) *tool.Registry {
	workspace := cfg.General.Workspace

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewShellTool(shellCfg))
	registry.Register(tool.NewReadFileTool(workspace))
	registry.Register(tool.NewWriteFileTool(workspace))
	registry.Register(tool.NewEditFileTool(workspace))
	registry.Register(tool.NewListDirTool(workspace))
	registry.Register(tool.NewWebSearchTool(cfg.Tools.Web.SearchAPIKey))
	registry.Register(tool.NewWebFetchTool(int64(cfg.Tools.Web.MaxFetchBytes)))
	registry.Register(tool.NewMessageTool(messageBus))
	registry.Register(tool.NewSpawnTool(subagents))
	registry.Register(tool.NewSysInfoTool())
	if relay != nil {
		registry.Register(tool.NewBrowserTool(relay, workspace))
	}
	if cronSvc != nil {
		registry.Register(tool.NewCronTool(cronSvc))
	}
	return registry
}

// registerChannels adds every channel enabled in config to the manager.
func registerChannels(m *channel.Manager, cfg *config.Config) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		m.Register(channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		m.Register(channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		m.Register(channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Webhook.Enabled {
		m.Register(channel.NewWebhook(channel.WebhookConfig{
			Host:     cfg.Channels.Webhook.Host,
			Port:     cfg.Channels.Webhook.Port,
			Path:     cfg.Channels.Webhook.Path,
			Secret:   cfg.Channels.Webhook.Secret,
			ReplyURL: cfg.Channels.Webhook.ReplyURL,
			Logger:   logger,
		}))
	}
	if cfg.Channels.CLI.Enabled {
		m.Register(channel.NewCLI(channel.CLIConfig{Logger: logger}))
	}
}

// seedCronJobs registers config-declared jobs. IDs default to a stable
// per-index value so a restart replaces them instead of duplicating.
func seedCronJobs(svc *cron.Service, jobs []config.CronJob) {
	for i, jc := range jobs {
		id := jc.ID
		if id == "" {
			id = fmt.Sprintf("cfg-%d", i)
		}
		_, err := svc.Add(cron.Job{
			ID:       id,
			Name:     jc.Name,
			Schedule: jc.Schedule,
			Message:  jc.Message,
			Channel:  jc.Channel,
			ChatID:   jc.ChatID,
			Enabled:  jc.Enabled,
		})
		if err != nil {
			logger.Warn("cannot schedule cron job from config", "id", id, "err", err)
		}
	}
}

// startMetrics serves the Prometheus endpoint when enabled. The returned
// func shuts the server down.
func startMetrics(cfg *config.Config) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	go func() {
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := loadOrDefaults(cfgPath)

			fmt.Printf("nanobot %s\n", version)
			fmt.Printf("  config:    %s\n", cfgPath)
			fmt.Printf("  workspace: %s\n", cfg.General.Workspace)
			fmt.Printf("  channels:  %s\n", strings.Join(enabledChannels(cfg), ", "))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if prov := provider.NewFactory(cfg, logger).HealthyProvider(ctx); prov != nil {
				fmt.Printf("  provider:  %s (model %s)\n", prov.Name(), prov.DefaultModel())
			} else {
				fmt.Printf("  provider:  no healthy provider\n")
			}

			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				fmt.Printf("  sessions:  unavailable (%v)\n", err)
				return nil
			}
			defer store.Close()
			schema, _ := memory.SchemaVersion(store.DB())
			var sessions int
			store.DB().QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessions)
			fmt.Printf("  sessions:  %d (schema v%d, %s)\n", sessions, schema, cfg.Memory.DBPath)
			return nil
		},
	}
}

func enabledChannels(cfg *config.Config) []string {
	var names []string
	if cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if cfg.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if cfg.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	if cfg.Channels.Webhook.Enabled {
		names = append(names, "webhook")
	}
	if cfg.Channels.CLI.Enabled {
		names = append(names, "cli")
	}
	return names
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nanobot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nanobot %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value (e.g. channels.telegram.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths and values, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, line := range config.ListPaths(config.Sanitize(cfg)) {
				fmt.Println(line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the full config as JSON, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
