package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"nanobot/internal/config"
	"nanobot/internal/domain"
)

// Constructor builds a provider from one config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// HealthChecker is implemented by providers that can probe their endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Factory creates and caches providers from config entries. Providers are
// keyed by their config name; the entry's Kind selects the wire protocol.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// Register adds (or replaces) a constructor for a provider kind.
func (f *Factory) Register(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
	f.constructors["anthropic"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
}

// Get returns the provider with the given config name, or the default
// provider when name is empty. Created providers are cached so the same
// instance is reused across calls. Uses double-check locking to avoid
// TOCTOU races between the read and write paths.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[pc.Kind]

	var p domain.Provider
	switch {
	case found:
		p = ctor(pc, f.logger)
	case pc.APIBase != "" && pc.APIKey != "":
		// Unknown kinds with a base URL and key are treated as
		// OpenAI-compatible; most hosted gateways speak that dialect.
		p = NewOpenAI(OpenAIConfig{
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    f.logger,
		})
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q and no API base/key to fall back on", name, pc.Kind)
	}

	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the provider named by general.defaultProvider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// HealthyProvider returns the first configured provider that passes a health
// check, or nil when none do. The default provider is tried first.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := []string{f.cfg.General.DefaultProvider}
	for name := range f.cfg.Providers {
		if name != f.cfg.General.DefaultProvider {
			names = append(names, name)
		}
	}
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			continue
		}
		hc, ok := p.(HealthChecker)
		if !ok {
			return p
		}
		if hc.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
