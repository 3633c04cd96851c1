package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"nanobot/internal/config"
	"nanobot/internal/skill"

	"github.com/spf13/cobra"
)

func skillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "List, install and remove agent skills",
	}
	cmd.AddCommand(skillListCmd(), skillInstallCmd(), skillRemoveCmd())
	return cmd
}

func skillListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := skillsDir()
			if err != nil {
				return err
			}
			skills := skill.NewLoader(dir, logger).LoadAll()
			if len(skills) == 0 {
				fmt.Printf("No skills installed in %s\n", dir)
				return nil
			}
			for _, s := range skills {
				mode := "on demand"
				if s.Always {
					mode = "always on"
				}
				fmt.Printf("  %-20s %-10s %s\n", s.Name, mode, s.Description)
			}
			return nil
		},
	}
}

func skillInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <url>",
		Short: "Install a skill from a URL pointing at a SKILL.md or its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := skillsDir()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			s, err := skill.NewInstaller(dir, logger).Install(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Installed %s: %s\n", s.Name, s.Description)
			return nil
		},
	}
}

func skillRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := skillsDir()
			if err != nil {
				return err
			}
			if err := skill.NewInstaller(dir, logger).Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func skillsDir() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return filepath.Join(cfg.General.Workspace, "skills"), nil
}
