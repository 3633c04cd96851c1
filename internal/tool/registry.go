package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"nanobot/internal/domain"
	"nanobot/internal/metrics"
)

// Registry holds all available tools and dispatches execution by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	order  []string // registration order, for stable definitions
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	r.logger.Debug("registered tool", "name", name)
	return nil
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute dispatches to the named tool. A panicking tool is recovered and
// reported as an error; nothing escapes this boundary.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s (available: %v)", name, r.Names())
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "name", name, "panic", rec)
			result = ""
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()

	start := time.Now()
	result, err = t.Execute(ctx, args)
	metrics.ToolExecutions.Inc()
	metrics.ToolLatency.Observe(time.Since(start).Seconds())
	return result, err
}

// GetDefinitions returns tool definitions for the LLM in registration order.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetContext hands the current conversation to every tool that wants it.
func (r *Registry) SetContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ca, ok := t.(domain.ContextAware); ok {
			ca.SetContext(channel, chatID)
		}
	}
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
	Enum        []string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString extracts a string argument, stringifying non-string values.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
