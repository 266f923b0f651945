// Package follower drives entity indexing along the chain. It stages the
// writes of every unfinalized block in memory and persists a block once it is
// deeper than the configured reorg depth.
package follower

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/reader"
	"github.com/goran-ethernal/EntityIndexor/internal/rpc"
	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/internal/store"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexer"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// StepKind tells the caller whether more blocks are ready.
type StepKind int

const (
	// Tip means there was no new block to process.
	Tip StepKind = iota
	// More means blocks were processed and the caller should step again.
	More
)

func (k StepKind) String() string {
	if k == Tip {
		return "tip"
	}
	return "more"
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Kind StepKind

	// Depth is how many blocks the chain head is ahead of NextBlock.
	Depth uint64

	// NextBlock is the number the next step starts from.
	NextBlock uint64
}

// Final reports whether the follower is within maxDepth blocks of the head.
func (r StepResult) Final(maxDepth uint64) bool {
	return r.Kind == Tip || r.Depth <= maxDepth
}

// Follower is the single writer of the staging area.
type Follower struct {
	provider    pkgrpc.ChainProvider
	store       *store.EntityStore
	coordinator *indexer.IndexerCoordinator
	cfg         config.FollowerConfig
	log         *logger.Logger

	filter ethereum.FilterQuery
	area   *staging.StorageArea
	next   uint64
}

// New creates a follower. Start must be called before Step.
func New(
	provider pkgrpc.ChainProvider,
	entityStore *store.EntityStore,
	coordinator *indexer.IndexerCoordinator,
	cfg config.FollowerConfig,
	log *logger.Logger,
) (*Follower, error) {
	if provider == nil {
		return nil, errors.New("chain provider is required")
	}
	if entityStore == nil {
		return nil, errors.New("entity store is required")
	}
	if coordinator == nil {
		return nil, errors.New("indexer coordinator is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Follower{
		provider:    provider,
		store:       entityStore,
		coordinator: coordinator,
		cfg:         cfg,
		log:         log.WithComponent(common.ComponentFollower),
		filter:      coordinator.Filter(),
	}, nil
}

// Bootstrap seeds an empty store with the block at number as its finalized
// block. A store that already has one is left alone.
func (f *Follower) Bootstrap(ctx context.Context, number uint64) (lineage.BlockIdentifier, error) {
	existing, err := f.store.GetFinalizedBlock(ctx)
	if err != nil {
		return lineage.BlockIdentifier{}, err
	}
	if existing != nil {
		f.log.Infow("store already initialized", "finalized_block", existing.Number)
		return *existing, nil
	}

	block, err := f.provider.BlockByNumber(ctx, number)
	if err != nil {
		return lineage.BlockIdentifier{}, fmt.Errorf("failed to fetch start block %d: %w", number, err)
	}

	id := block.Identifier()
	if err := f.store.InitializeFinalizedBlock(ctx, id); err != nil {
		return lineage.BlockIdentifier{}, err
	}

	return id, nil
}

// Start loads the finalized block from the store and resets the staging
// area to it.
func (f *Follower) Start(ctx context.Context) error {
	finalized, err := f.store.GetFinalizedBlock(ctx)
	if err != nil {
		return err
	}
	if finalized == nil {
		return errors.New("store has no finalized block, run backfill first")
	}

	f.area = staging.NewStorageArea(*finalized)
	f.next = finalized.Number + 1
	finalizedBlock.Set(float64(finalized.Number))

	f.log.Infow("follower started",
		"finalized_block", finalized.Number,
		"finalized_hash", finalized.Hash.Hex(),
		"max_reorg_depth", f.cfg.MaxReorgBlocksDepth,
		"step_size", f.cfg.StepSize,
	)

	return nil
}

// Area returns the staging area. It is nil before Start.
func (f *Follower) Area() *staging.StorageArea {
	return f.area
}

// Reader returns a reader bound to the current tip.
func (f *Follower) Reader() *reader.Reader {
	return reader.New(f.store, f.area)
}

// Run steps until ctx is done or a step fails. It waits for the poll
// interval whenever the tip is reached.
func (f *Follower) Run(ctx context.Context) error {
	if f.area == nil {
		if err := f.Start(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			f.log.Info("follower stopped")
			return ctx.Err()
		default:
		}

		result, err := f.Step(ctx)
		if err != nil {
			return err
		}

		if result.Kind == More {
			if !result.Final(f.cfg.MaxReorgBlocksDepth) {
				f.log.Infow("catching up", "next_block", result.NextBlock, "depth", result.Depth)
			}
			continue
		}

		select {
		case <-ctx.Done():
			f.log.Info("follower stopped")
			return ctx.Err()
		case <-time.After(f.cfg.PollInterval.Duration):
		}
	}
}

// Step processes the next window of blocks.
func (f *Follower) Step(ctx context.Context) (StepResult, error) {
	if f.area == nil {
		return StepResult{}, errors.New("follower not started")
	}

	start := time.Now()

	latest, err := f.provider.LatestBlock(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	if f.next > latest.Number {
		stepObserve(start, Tip.String())
		return StepResult{Kind: Tip, NextBlock: f.next}, nil
	}

	from := f.next
	to := min(latest.Number, from+f.cfg.StepSize-1)

	blocks, logs, err := f.fetchWindow(ctx, from, to)
	if err != nil {
		return StepResult{}, err
	}

	cache, err := makeLogsCache(logs, blocks)
	if err != nil {
		return StepResult{}, err
	}

	for _, block := range blocks {
		if err := f.ensureParentsAvailable(ctx, block.Parent()); err != nil {
			return StepResult{}, err
		}

		f.area.AddParent(block.Identifier(), block.Parent())

		if err := f.processBlock(ctx, block, cache); err != nil {
			return StepResult{}, err
		}

		if err := f.promoteFinalizedBlocks(ctx, latest.Number, block.Identifier()); err != nil {
			return StepResult{}, err
		}

		if f.area.AdvanceTip(block.Identifier()) {
			tipBlock.Set(float64(block.Number))
		}

		f.next = block.Number + 1
	}

	var depth uint64
	if latest.Number > f.next {
		depth = latest.Number - f.next
	}

	stepObserve(start, More.String())
	f.log.Debugw("step done",
		"from", from,
		"to", f.next-1,
		"logs", len(logs),
		"latest", latest.Number,
		"staged_blocks", f.area.Size(),
	)

	return StepResult{Kind: More, Depth: depth, NextBlock: f.next}, nil
}

// fetchWindow fetches blocks and matching logs of from..to in parallel. A
// provider refusing the log query as too large narrows the window.
func (f *Follower) fetchWindow(ctx context.Context, from, to uint64) ([]*pkgrpc.Block, []types.Log, error) {
	for {
		blocks, logs, err := f.fetchRange(ctx, from, to)
		if err == nil {
			return blocks, logs, nil
		}

		narrowed, ok := narrowWindow(err, from, to)
		if !ok {
			return nil, nil, err
		}

		f.log.Warnw("log query too large, narrowing window", "from", from, "to", to, "new_to", narrowed)
		to = narrowed
	}
}

func (f *Follower) fetchRange(ctx context.Context, from, to uint64) ([]*pkgrpc.Block, []types.Log, error) {
	var (
		blocks []*pkgrpc.Block
		logs   []types.Log
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		blocks, err = f.provider.BlockRange(gctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to fetch blocks %d..%d: %w", from, to, err)
		}
		return nil
	})

	g.Go(func() error {
		query := f.filter
		query.FromBlock = new(big.Int).SetUint64(from)
		query.ToBlock = new(big.Int).SetUint64(to)

		var err error
		logs, err = f.provider.GetLogs(gctx, query)
		if err != nil {
			return fmt.Errorf("failed to fetch logs %d..%d: %w", from, to, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return blocks, logs, nil
}

// narrowWindow picks a smaller upper bound after a too-many-results error,
// preferring the range the provider suggests.
func narrowWindow(err error, from, to uint64) (uint64, bool) {
	tooMany, data := rpc.IsTooManyResultsError(err)
	if !tooMany || to <= from {
		return 0, false
	}

	if sFrom, sTo, ok := rpc.ParseSuggestedBlockRange(data); ok && sFrom == from && sTo >= from && sTo < to {
		return sTo, true
	}

	return from + (to-from)/2, true
}

// ensureParentsAvailable makes sure the lineage reaches from parent down to
// the finalized block. Unknown ancestors are fetched by hash and processed
// oldest first, which is how a switch to another branch is absorbed.
func (f *Follower) ensureParentsAvailable(ctx context.Context, parent lineage.BlockIdentifier) error {
	var missing []*pkgrpc.Block

	current := parent
	for {
		finalized := f.area.Finalized()
		if current.Number <= finalized.Number {
			if current.Number != finalized.Number || current.Hash != finalized.Hash {
				return &ReorgTooDeepError{Finalized: finalized, Observed: current, MaxDepth: f.cfg.MaxReorgBlocksDepth}
			}
			break
		}

		if f.area.HasParent(current.Hash) {
			break
		}

		block, err := f.provider.BlockByHash(ctx, current.Hash)
		if err != nil {
			return fmt.Errorf("failed to fetch ancestor %s: %w", current, err)
		}

		missing = append(missing, block)
		current = block.Parent()
	}

	if len(missing) == 0 {
		return nil
	}

	reorgsAbsorbed.Inc()
	f.log.Warnw("back-filling unknown ancestors",
		"from", missing[len(missing)-1].Number,
		"to", missing[0].Number,
		"blocks", len(missing),
	)

	for i := len(missing) - 1; i >= 0; i-- {
		block := missing[i]
		f.area.AddParent(block.Identifier(), block.Parent())
		if err := f.processBlock(ctx, block, nil); err != nil {
			return err
		}
	}

	return nil
}

// processBlock runs the handlers of every matching log of block in log
// order. On failure the block's staged writes are dropped so that it is
// either fully processed or not at all.
func (f *Follower) processBlock(ctx context.Context, block *pkgrpc.Block, cache logsCache) error {
	logs, ok := cache[block.Hash]
	if !ok {
		var err error
		logs, err = f.logsForBlock(ctx, block)
		if err != nil {
			return err
		}
	}

	handle := staging.NewHandle(f.area, block.Identifier(), f.store, f.coordinator.Kinds())

	for _, log := range logs {
		dispatch, err := f.coordinator.Route(log)
		if err != nil {
			f.area.Prune(block.Hash)
			return fmt.Errorf("failed to route log %d of block %s: %w", log.Index, block.Identifier(), err)
		}

		if err := dispatch.Handler(ctx, handle, dispatch.Event, log); err != nil {
			f.area.Prune(block.Hash)
			return &HandlerFailureError{
				Indexer:        dispatch.Indexer.Name,
				Log:            log,
				Event:          dispatch.Event,
				LoadedEntities: handle.LoadedEntities(),
				Err:            err,
			}
		}
	}

	blocksProcessed.Inc()
	logsHandled.Add(float64(len(logs)))

	return nil
}

// logsForBlock fetches the logs of a single block by hash unless its header
// bloom rules out every filtered address or topic.
func (f *Follower) logsForBlock(ctx context.Context, block *pkgrpc.Block) ([]types.Log, error) {
	if !bloomMayMatch(block.Bloom, f.filter) {
		bloomSkips.Inc()
		return nil, nil
	}

	query := f.filter
	hash := block.Hash
	query.BlockHash = &hash

	logs, err := f.provider.GetLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs of block %s: %w", block.Identifier(), err)
	}

	return logs, nil
}

// promoteFinalizedBlocks persists, oldest first, every block between the
// finalized frontier and head whose depth below latest strictly exceeds the
// reorg depth.
func (f *Follower) promoteFinalizedBlocks(ctx context.Context, latest uint64, head lineage.BlockIdentifier) error {
	path, err := f.area.PathTo(head)
	if err != nil {
		return err
	}

	for i := len(path) - 1; i >= 0; i-- {
		block := path[i]
		if block.Number >= latest || latest-block.Number <= f.cfg.MaxReorgBlocksDepth {
			break
		}

		if err := f.store.FlushUpdates(ctx, block, f.area.Changed(block.Hash)); err != nil {
			return fmt.Errorf("failed to persist block %s: %w", block, err)
		}

		f.area.SetFinalized(block)
		pruned := f.area.PruneBelow(block.Number)

		finalizedBlock.Set(float64(block.Number))
		f.log.Debugw("block finalized",
			"block", block.Number,
			"hash", block.Hash.Hex(),
			"pruned", pruned,
		)
	}

	return nil
}
