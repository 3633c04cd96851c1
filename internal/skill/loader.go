// Package skill loads agent skills from the workspace. A skill is a
// directory containing a SKILL.md file: YAML frontmatter with a name and
// description, followed by a markdown body of instructions. Skills marked
// always-on are injected into every system prompt; the rest are listed so
// the model can read them on demand.
package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const skillFileName = "SKILL.md"

// Skill is one loaded skill definition.
type Skill struct {
	Name        string
	Description string
	Content     string
	Always      bool
	Path        string
}

// frontmatter is the YAML header of a SKILL.md file. The metadata field
// carries tool-specific settings as a nested map.
type frontmatter struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Always      bool           `yaml:"always"`
	Metadata    map[string]any `yaml:"metadata"`
}

// Loader reads skills from a directory tree.
type Loader struct {
	dir    string
	logger *slog.Logger
}

func NewLoader(dir string, logger *slog.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// LoadAll returns every parseable skill under the loader's directory.
// Unreadable or malformed skills are logged and skipped.
func (l *Loader) LoadAll() []Skill {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("cannot read skills directory", "dir", l.dir, "err", err)
		}
		return nil
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), skillFileName)
		s, err := loadSkillFile(path, entry.Name())
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("cannot load skill", "path", path, "err", err)
			}
			continue
		}
		l.logger.Debug("loaded skill", "name", s.Name, "always", s.Always)
		skills = append(skills, s)
	}
	return skills
}

// AlwaysOn returns the skills injected into every prompt.
func (l *Loader) AlwaysOn() []Skill {
	var out []Skill
	for _, s := range l.LoadAll() {
		if s.Always {
			out = append(out, s)
		}
	}
	return out
}

func loadSkillFile(path, fallbackName string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	meta, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}

	s := Skill{
		Name:        meta.Name,
		Description: meta.Description,
		Content:     strings.TrimSpace(body),
		Always:      meta.Always || metadataAlways(meta.Metadata),
		Path:        path,
	}
	if s.Name == "" {
		s.Name = fallbackName
	}
	return s, nil
}

// splitFrontmatter separates the YAML header from the markdown body. A file
// without a header is all body.
func splitFrontmatter(content string) (frontmatter, string, error) {
	var meta frontmatter
	if !strings.HasPrefix(content, "---\n") {
		return meta, content, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, "", fmt.Errorf("unterminated frontmatter")
	}
	header := rest[:end]
	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return meta, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, body, nil
}

// metadataAlways digs the always flag out of nested tool metadata, e.g.
// metadata: {"nanobot": {"always": true}}.
func metadataAlways(metadata map[string]any) bool {
	for _, v := range metadata {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if always, ok := nested["always"].(bool); ok && always {
			return true
		}
	}
	return false
}
