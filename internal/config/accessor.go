package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GetByPath reads a value by dot-notation path, e.g. "general.maxTurns" or
// "providers.openrouter.defaultModel". Array elements are addressed by
// index: "cron.jobs.0.schedule".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", current, key)
		}
	}
	return current, nil
}

// SetByPath writes a value by dot-notation path. String values are coerced
// to bool or number when they parse as one, so `config set browser.enabled
// false` does what it looks like. The updated tree is validated before it is
// written back.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot descend into %T at %q", child, key)
		}
		parent = childMap
	}
	parent[parts[len(parts)-1]] = coerceValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("value does not fit %s: %w", path, err)
	}
	if err := Validate(&updated); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

// coerceValue converts CLI string input to the matching JSON type.
func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a deep copy with credentials masked, safe for display
// and logs.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var clean Config
	if err := json.Unmarshal(data, &clean); err != nil {
		return cfg
	}

	for name, prov := range clean.Providers {
		prov.APIKey = maskSecret(prov.APIKey)
		clean.Providers[name] = prov
	}
	clean.Channels.Telegram.Token = maskSecret(clean.Channels.Telegram.Token)
	clean.Channels.Discord.Token = maskSecret(clean.Channels.Discord.Token)
	clean.Channels.Slack.BotToken = maskSecret(clean.Channels.Slack.BotToken)
	clean.Channels.Slack.AppToken = maskSecret(clean.Channels.Slack.AppToken)
	clean.Channels.Webhook.Secret = maskSecret(clean.Channels.Webhook.Secret)
	clean.Tools.Web.SearchAPIKey = maskSecret(clean.Tools.Web.SearchAPIKey)

	return &clean
}

// maskSecret keeps the first and last 4 characters of long secrets so they
// stay recognizable, and hides short ones entirely.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into sorted dot-notation paths for
// `config list` output. Secrets are expected to be masked by the caller
// via Sanitize.
func ListPaths(cfg *Config) []string {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	flat := make(map[string]any)
	flatten("", m, flat)

	paths := make([]string, 0, len(flat))
	for path, val := range flat {
		paths = append(paths, fmt.Sprintf("%s = %v", path, val))
	}
	sort.Strings(paths)
	return paths
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		out[path] = v
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
