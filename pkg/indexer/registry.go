package indexer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
)

// Factory builds the definition of one configured indexer.
type Factory func(cfg config.IndexerConfig, log *logger.Logger) (*Definition, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register registers an indexer factory under a case-insensitive type name.
// It is meant to be called from init functions of indexer packages.
func Register(indexerType string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	name := strings.ToLower(indexerType)
	if _, exists := registry[name]; exists {
		logger.GetDefaultLogger().Infof("indexer type %s already registered, overwriting", name)
	}

	registry[name] = factory
}

// GetFactory returns the factory for indexerType, or nil.
func GetFactory(indexerType string) Factory {
	mu.RLock()
	defer mu.RUnlock()

	return registry[strings.ToLower(indexerType)]
}

// ListRegistered returns the registered type names in sorted order.
func ListRegistered() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create builds and validates a definition with the factory of indexerType.
func Create(indexerType string, cfg config.IndexerConfig, log *logger.Logger) (*Definition, error) {
	factory := GetFactory(indexerType)
	if factory == nil {
		return nil, fmt.Errorf("unknown indexer type: %s (registered types: %v)", indexerType, ListRegistered())
	}

	def, err := factory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer %s: %w", cfg.Name, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}
