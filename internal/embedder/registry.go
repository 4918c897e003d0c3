package embedder

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marlonsc/mcb-sub010/internal/config"
)

// Factory builds an Embedder from configuration.
type Factory func(cfg config.EmbeddingConfig) (Embedder, error)

// registry maps provider names to factories. Registration is explicit and
// happens during package initialization; there is no reflection.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory under a name. Later registrations for
// the same name replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Providers lists registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the provider named in cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (have %v)", ErrNoProvider, cfg.Provider, Providers())
	}
	return factory(cfg)
}

func init() {
	Register(ProviderNull, func(cfg config.EmbeddingConfig) (Embedder, error) {
		return NewNullProvider(cfg.Dimensions, NewCache(0)), nil
	})
	Register(ProviderLocal, func(cfg config.EmbeddingConfig) (Embedder, error) {
		return NewLocalProvider(cfg.Dimensions, NewCache(0)), nil
	})
	Register(ProviderOpenAI, func(cfg config.EmbeddingConfig) (Embedder, error) {
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			Dimension: cfg.Dimensions,
			Timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
		}, NewCache(0))
	})
}
