package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nanobot/internal/config"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database, config and cron jobs",
		Long: `Creates a compressed .tar.gz archive of the session database, the config
file and the cron job store. The archive is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := loadOrDefaults(cfgPath)

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("nanobot-backup-%s.tar.gz", ts))
			}

			var files []string
			addIfExists := func(path string) {
				if path == "" {
					return
				}
				if _, err := os.Stat(path); err == nil {
					files = append(files, path)
				}
			}

			addIfExists(cfg.Memory.DBPath)
			addIfExists(cfg.Memory.DBPath + "-wal")
			addIfExists(cfg.Memory.DBPath + "-shm")
			addIfExists(cfgPath)
			addIfExists(cfg.Cron.StorePath)

			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Memory.DBPath, cfgPath)
			}

			if err := writeArchive(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, f := range files {
				size := int64(0)
				if info, err := os.Stat(f); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.nanobot/backups/nanobot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore database, config and cron jobs from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archivePath := args[0]
			cfgPath := resolveConfigPath()
			cfg := loadOrDefaults(cfgPath)

			if !force {
				for _, p := range []string{cfg.Memory.DBPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Println("This would overwrite existing data:")
						fmt.Printf("  database: %s\n", cfg.Memory.DBPath)
						fmt.Printf("  config:   %s\n", cfgPath)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractArchive(archivePath, cfg.Memory.DBPath, cfgPath, cfg.Cron.StorePath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restored %d file(s) from %s\n", len(restored), archivePath)
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without asking")
	return cmd
}

// writeArchive creates a .tar.gz holding the given files, flattened to their
// base names.
func writeArchive(outputPath string, files []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := archiveFile(tw, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	return nil
}

func archiveFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractArchive restores archive entries to their live locations, mapping
// by base name.
func extractArchive(archivePath, dbPath, cfgPath, cronPath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		base := filepath.Base(header.Name)
		var target string
		switch {
		case base == "config.json":
			target = cfgPath
		case base == filepath.Base(cronPath) && cronPath != "":
			target = cronPath
		case strings.HasSuffix(base, ".db"):
			target = dbPath
		case strings.HasSuffix(base, ".db-wal"):
			target = dbPath + "-wal"
		case strings.HasSuffix(base, ".db-shm"):
			target = dbPath + "-shm"
		default:
			target = filepath.Join(filepath.Dir(cfgPath), base)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		out.Close()
		restored = append(restored, target)
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
