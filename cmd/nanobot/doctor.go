package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"nanobot/internal/config"
	"nanobot/internal/memory"
	"nanobot/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, provider, database, workspace and listen
ports are usable. Reports pass/warn/fail for each check.`,
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	fmt.Printf("nanobot doctor %s\n\n", version)

	passed, warned, failed := 0, 0, 0

	if _, err := os.Stat(cfgPath); err != nil {
		printFail("config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Println("\nRun 'nanobot onboard' to create one.")
		return fmt.Errorf("1 check failed")
	}
	printPass("config file", cfgPath)
	passed++

	cfg, err := config.Load(cfgPath)
	if err != nil {
		printFail("config parse", err.Error())
		fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
		return fmt.Errorf("config invalid")
	}
	printPass("config parse", "valid")
	passed++

	if info, err := os.Stat(cfg.General.Workspace); err != nil {
		printWarn("workspace", fmt.Sprintf("missing: %s (created on first run)", cfg.General.Workspace))
		warned++
	} else if !info.IsDir() {
		printFail("workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
		failed++
	} else {
		printPass("workspace", cfg.General.Workspace)
		passed++
	}

	if detail, err := checkDatabase(cfg.Memory.DBPath); err != nil {
		printFail("database", err.Error())
		failed++
	} else {
		printPass("database", detail)
		passed++
	}

	name := cfg.General.DefaultProvider
	pc, known := cfg.Providers[name]
	switch {
	case name == "":
		printFail("provider", "general.defaultProvider not set")
		failed++
	case !known:
		printFail("provider", fmt.Sprintf("%q not in providers", name))
		failed++
	case !pc.Enabled:
		printFail("provider", fmt.Sprintf("%s is disabled", name))
		failed++
	case pc.APIKey == "":
		printWarn("provider", fmt.Sprintf("%s has no API key", name))
		warned++
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		healthy := provider.NewFactory(cfg, logger).HealthyProvider(ctx)
		cancel()
		if healthy != nil {
			printPass("provider", fmt.Sprintf("%s reachable", healthy.Name()))
			passed++
		} else {
			printWarn("provider", fmt.Sprintf("%s configured but not reachable", name))
			warned++
		}
	}

	if cfg.Browser.Enabled {
		checkPort("relay port", cfg.Browser.RelayPort, &passed, &warned)
	}
	if cfg.Channels.Webhook.Enabled {
		checkPort("webhook port", cfg.Channels.Webhook.Port, &passed, &warned)
	}

	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	if warned == 0 {
		fmt.Println("All checks passed.")
	}
	return nil
}

// checkDatabase opens the store, which runs migrations, and reports the
// resulting schema version.
func checkDatabase(dbPath string) (string, error) {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer store.Close()

	schema, err := memory.SchemaVersion(store.DB())
	if err != nil {
		return "", fmt.Errorf("schema version: %w", err)
	}
	return fmt.Sprintf("%s (schema v%d)", dbPath, schema), nil
}

// checkPort warns when the port cannot be bound. A running gateway holds its
// ports, so in-use is a warning rather than a failure.
func checkPort(label string, port int, passed, warned *int) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		printWarn(label, fmt.Sprintf("port %d may be in use: %v", port, err))
		*warned++
		return
	}
	ln.Close()
	printPass(label, fmt.Sprintf(":%d available", port))
	*passed++
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-14s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-14s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-14s %s\n", check, detail)
}
