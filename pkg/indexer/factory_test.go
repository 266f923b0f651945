package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

// resetRegistry clears the factory registry for testing
func resetRegistry() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}

func factoryFor(name string) Factory {
	return func(cfg config.IndexerConfig, log *logger.Logger) (*Definition, error) {
		def := testDefinition(nil)
		def.Name = name
		if cfg.Name != "" {
			def.Name = cfg.Name
		}
		return def, nil
	}
}

func TestRegister(t *testing.T) {
	// Cannot use t.Parallel() because it modifies the global registry

	tests := []struct {
		name          string
		indexerType   string
		lookup        string
		setupExisting func()
		expectedName  string
	}{
		{
			name:         "register new indexer type",
			indexerType:  "test-indexer",
			lookup:       "test-indexer",
			expectedName: "test-indexer",
		},
		{
			name:         "lookup is case-insensitive",
			indexerType:  "ERC20-Indexer",
			lookup:       "erc20-INDEXER",
			expectedName: "ERC20-Indexer",
		},
		{
			name:        "overwrite existing registration",
			indexerType: "duplicate",
			lookup:      "duplicate",
			setupExisting: func() {
				Register("duplicate", factoryFor("old"))
			},
			expectedName: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRegistry()

			if tt.setupExisting != nil {
				tt.setupExisting()
			}

			Register(tt.indexerType, factoryFor(tt.indexerType))

			factory := GetFactory(tt.lookup)
			require.NotNil(t, factory)

			def, err := factory(config.IndexerConfig{}, logger.NewNopLogger())
			require.NoError(t, err)
			require.Equal(t, tt.expectedName, def.Name)
		})
	}
}

func TestListRegistered(t *testing.T) {
	resetRegistry()
	require.Empty(t, ListRegistered())

	Register("zeta", factoryFor("zeta"))
	Register("Alpha", factoryFor("alpha"))
	Register("ALPHA", factoryFor("alpha"))

	require.Equal(t, []string{"alpha", "zeta"}, ListRegistered())
}

func TestCreate(t *testing.T) {
	// Cannot use t.Parallel() because it modifies the global registry

	tests := []struct {
		name        string
		setup       func()
		indexerType string
		cfg         config.IndexerConfig
		expectedErr string
	}{
		{
			name:        "create registered indexer",
			setup:       func() { Register("token", factoryFor("token")) },
			indexerType: "TOKEN",
			cfg:         config.IndexerConfig{Name: "usdc"},
		},
		{
			name:        "unknown type lists registered types",
			setup:       func() { Register("token", factoryFor("token")) },
			indexerType: "nft",
			expectedErr: "unknown indexer type: nft (registered types: [token])",
		},
		{
			name: "factory error is wrapped",
			setup: func() {
				Register("broken", func(config.IndexerConfig, *logger.Logger) (*Definition, error) {
					return nil, errors.New("no abi")
				})
			},
			indexerType: "broken",
			cfg:         config.IndexerConfig{Name: "b"},
			expectedErr: "failed to create indexer b: no abi",
		},
		{
			name: "invalid definition is rejected",
			setup: func() {
				Register("invalid", func(config.IndexerConfig, *logger.Logger) (*Definition, error) {
					def := testDefinition(nil)
					def.Handlers["Mint"] = noopHandler
					return def, nil
				})
			},
			indexerType: "invalid",
			expectedErr: "handler for Mint: unknown event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRegistry()
			tt.setup()

			def, err := Create(tt.indexerType, tt.cfg, logger.NewNopLogger())
			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.cfg.Name, def.Name)
		})
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	resetRegistry()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Register(fmt.Sprintf("type-%d", i), factoryFor("x"))
		}()
		go func() {
			defer wg.Done()
			_ = ListRegistered()
			_ = GetFactory(fmt.Sprintf("type-%d", i))
		}()
	}
	wg.Wait()

	require.Len(t, ListRegistered(), 20)
}

func noopHandler(context.Context, StorageHandle, Event, types.Log) error { return nil }
