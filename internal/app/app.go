// Package app assembles the indexing stack described by a Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/follower"
	"github.com/goran-ethernal/EntityIndexor/internal/kv"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/metrics"
	internalreader "github.com/goran-ethernal/EntityIndexor/internal/reader"
	"github.com/goran-ethernal/EntityIndexor/internal/store"
	"github.com/goran-ethernal/EntityIndexor/pkg/api"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexer"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component of an indexer process.
type App struct {
	cfg *config.Config
	log *logger.Logger

	provider    pkgrpc.ChainProvider
	storage     kv.Storage
	store       *store.EntityStore
	coordinator *indexer.IndexerCoordinator
	follower    *follower.Follower
}

// New creates the configured indexers, opens the store and replays its undo
// log. The app takes ownership of provider.
func New(ctx context.Context, cfg *config.Config, provider pkgrpc.ChainProvider) (*App, error) {
	log := logger.NewComponentLoggerFromConfig(common.ComponentFollower, cfg.Logging)

	coordinator, storage, entityStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	f, err := follower.New(provider, entityStore, coordinator, cfg.Follower, log)
	if err != nil {
		return nil, multierr.Append(err, storage.Close())
	}

	return &App{
		cfg:         cfg,
		log:         log,
		provider:    provider,
		storage:     storage,
		store:       entityStore,
		coordinator: coordinator,
		follower:    f,
	}, nil
}

// Recover replays the undo log of the configured store and returns its
// finalized block, nil for an empty store.
func Recover(ctx context.Context, cfg *config.Config) (finalized *lineage.BlockIdentifier, err error) {
	log := logger.NewComponentLoggerFromConfig(common.ComponentEntityStore, cfg.Logging)

	_, storage, entityStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, storage.Close())
	}()

	return entityStore.GetFinalizedBlock(ctx)
}

func openStore(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
) (*indexer.IndexerCoordinator, kv.Storage, *store.EntityStore, error) {
	if len(cfg.Indexers) == 0 {
		return nil, nil, nil, errors.New("no indexers configured")
	}

	defs := make([]*indexer.Definition, 0, len(cfg.Indexers))
	for _, idxCfg := range cfg.Indexers {
		def, err := indexer.Create(idxCfg.Type, idxCfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Infow("indexer created", "name", def.Name, "type", idxCfg.Type, "address", def.Address.Hex())
		defs = append(defs, def)
	}

	// entity kinds must be known before the undo log can be replayed
	coordinator, err := indexer.NewIndexerCoordinator(defs...)
	if err != nil {
		return nil, nil, nil, err
	}

	storage, err := kv.Open(ctx, cfg.Store, logger.NewComponentLoggerFromConfig(common.ComponentKVStore, cfg.Logging))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	entityStore := store.New(storage, coordinator.Kinds(),
		logger.NewComponentLoggerFromConfig(common.ComponentEntityStore, cfg.Logging))
	if err := entityStore.EnsureConsistentState(ctx); err != nil {
		return nil, nil, nil, multierr.Append(fmt.Errorf("failed to recover store: %w", err), storage.Close())
	}

	return coordinator, storage, entityStore, nil
}

// Follower returns the chain follower.
func (a *App) Follower() *follower.Follower {
	return a.follower
}

// Store returns the persisted entity store.
func (a *App) Store() *store.EntityStore {
	return a.store
}

// StartBlock is the block an empty store is seeded with: the configured
// follower start block, or the block before the earliest indexer deployment.
func (a *App) StartBlock() (uint64, error) {
	configured, err := a.cfg.Follower.StartBlockNumber()
	if err != nil {
		return 0, err
	}
	if configured != nil {
		return *configured, nil
	}

	if start := a.coordinator.StartBlock(); start > 0 {
		return start - 1, nil
	}
	return 0, nil
}

// Start seeds an empty store and positions the follower on the finalized
// block.
func (a *App) Start(ctx context.Context) error {
	start, err := a.StartBlock()
	if err != nil {
		return err
	}

	finalized, err := a.follower.Bootstrap(ctx, start)
	if err != nil {
		return err
	}
	a.log.Infow("finalized block", "number", finalized.Number, "hash", finalized.Hash.Hex())

	return a.follower.Start(ctx)
}

// Run starts the follower together with the optional metrics and API
// servers, and blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics != nil && a.cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(a.cfg.Metrics, a.log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				a.log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	if a.cfg.API != nil && a.cfg.API.Enabled {
		server := api.NewServer(a.cfg.API, a.requestReader,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, a.cfg.Logging))
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	g.Go(func() error {
		err := a.follower.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Reader returns a reader bound to the latest processed block.
func (a *App) Reader() reader.Reader {
	return a.follower.Reader()
}

// requestReader returns a reader for one API request. Point reads are
// memoized for the lifetime of the request.
func (a *App) requestReader() reader.Reader {
	r := a.follower.Reader()
	if a.cfg.API == nil || a.cfg.API.EntityCacheSize <= 0 {
		return r
	}

	cached, err := internalreader.NewCached(r, a.coordinator.Kinds(), a.cfg.API.EntityCacheSize)
	if err != nil {
		a.log.Warnf("serving uncached reader: %v", err)
		return r
	}
	return cached
}

// Close releases the store and the chain provider.
func (a *App) Close() error {
	a.provider.Close()
	return a.storage.Close()
}
