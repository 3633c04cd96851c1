package main

import (
	"fmt"
	"os"
	"path/filepath"

	"nanobot/internal/config"

	"github.com/spf13/cobra"
)

func onboardCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create the config file and workspace bootstrap files",
		Long: "Writes a default config.json and seeds the workspace with the files the\n" +
			"agent reads on every message: AGENTS.md, SOUL.md, USER.md, HEARTBEAT.md,\n" +
			"memory/MEMORY.md and a skills directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runOnboard(force bool) error {
	cfgPath := resolveConfigPath()

	if _, err := os.Stat(cfgPath); err == nil && !force {
		fmt.Printf("Config already exists: %s (use --force to overwrite)\n", cfgPath)
	} else {
		if err := config.Save(cfgPath, config.Defaults()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workspace := cfg.General.Workspace
	for _, dir := range []string{workspace, filepath.Join(workspace, "memory"), filepath.Join(workspace, "skills")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	seeds := []struct {
		name    string
		content string
	}{
		{"AGENTS.md", agentsTemplate},
		{"SOUL.md", soulTemplate},
		{"USER.md", userTemplate},
		{"HEARTBEAT.md", heartbeatTemplate},
		{filepath.Join("memory", "MEMORY.md"), memoryTemplate},
	}
	for _, seed := range seeds {
		path := filepath.Join(workspace, seed.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(seed.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", seed.name, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Put an API key in the config, or export OPENROUTER_API_KEY.")
	fmt.Println("  2. Run 'nanobot run' and talk to the agent in your terminal.")
	fmt.Println("  3. Enable a chat channel with 'nanobot config set' when ready.")
	return nil
}

const agentsTemplate = `# Agent Instructions

Standing instructions for the agent, included in the system prompt of every
conversation. Keep it short.

- Prefer doing over explaining: use the tools.
- Ask before destructive shell commands.
`

const soulTemplate = `# Soul

Who the agent is: tone, personality, values.

You are a pragmatic assistant. Friendly, direct, no filler.
`

const userTemplate = `# User

Facts about the user worth keeping across conversations: name, timezone,
preferences, ongoing projects.
`

const heartbeatTemplate = `# Heartbeat

Read on every heartbeat tick when the heartbeat is enabled. List what the
agent should look after proactively; leave empty to make ticks a no-op.
`

const memoryTemplate = `# Memory

Long-term notes the agent keeps for itself between conversations. The agent
appends here with its file tools; edit freely.
`
