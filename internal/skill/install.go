package skill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const maxSkillSize = 1 << 20

// Installer downloads skills into the skills directory, one directory per
// skill holding its SKILL.md.
type Installer struct {
	dir    string
	logger *slog.Logger
	client *http.Client
}

func NewInstaller(dir string, logger *slog.Logger) *Installer {
	return &Installer{
		dir:    dir,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Install fetches a SKILL.md from rawURL and writes it under the skills
// directory. A URL not ending in SKILL.md is treated as the skill's
// directory. Returns the installed skill as the loader would parse it.
func (i *Installer) Install(ctx context.Context, rawURL string) (*Skill, error) {
	fileURL := rawURL
	if !strings.HasSuffix(fileURL, skillFileName) {
		fileURL = strings.TrimRight(fileURL, "/") + "/" + skillFileName
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch skill: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("skill not found at %s (status %d)", fileURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSkillSize))
	if err != nil {
		return nil, err
	}

	meta, _, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("invalid skill file: %w", err)
	}
	name := meta.Name
	if name == "" {
		name = nameFromURL(fileURL)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	skillDir := filepath.Join(i.dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		return nil, fmt.Errorf("create skill directory: %w", err)
	}
	dest := filepath.Join(skillDir, skillFileName)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, err
	}

	s, err := loadSkillFile(dest, name)
	if err != nil {
		return nil, err
	}
	i.logger.Info("skill installed", "name", s.Name, "path", dest)
	return &s, nil
}

// Uninstall removes an installed skill directory.
func (i *Installer) Uninstall(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	skillDir := filepath.Join(i.dir, name)
	if _, err := os.Stat(skillDir); os.IsNotExist(err) {
		return fmt.Errorf("skill %q not installed", name)
	}
	i.logger.Info("skill removed", "name", name)
	return os.RemoveAll(skillDir)
}

// validateName rejects names that would escape the skills directory.
func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid skill name %q", name)
	}
	return nil
}

// nameFromURL derives a skill name from the URL's parent directory.
func nameFromURL(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return ""
	}
	base := path.Base(path.Dir(u.Path))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
