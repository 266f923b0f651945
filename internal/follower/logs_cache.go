package follower

import (
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
)

// logsCache maps a block hash to the logs of that block matching the filter.
// A present entry with no logs means the block is known to have none.
type logsCache map[common.Hash][]types.Log

// makeLogsCache groups the result of a range log query by block. When the
// log blocks link into blocks, the blocks from the start of the range up to
// the last block carrying logs are on the chain the query was answered
// from, so those without logs are recorded as empty. Blocks past the last
// log block stay absent: the range query may have been served from another
// view of the chain, so absence proves nothing there.
func makeLogsCache(logs []types.Log, blocks []*pkgrpc.Block) (logsCache, error) {
	parents := make(lineage.Parents, len(blocks))
	for _, b := range blocks {
		parents[b.Hash] = b.Parent()
	}

	if len(blocks) > 1 {
		first, last := blocks[0].Identifier(), blocks[len(blocks)-1].Identifier()
		if _, err := lineage.PathBetween(last, first, parents); err != nil {
			return nil, fmt.Errorf("block range %d..%d is not a chain: %w", first.Number, last.Number, err)
		}
	}

	cache := make(logsCache)
	if len(logs) == 0 {
		return cache, nil
	}

	var order []lineage.BlockIdentifier
	for _, log := range logs {
		if _, seen := cache[log.BlockHash]; !seen {
			order = append(order, lineage.BlockIdentifier{Number: log.BlockNumber, Hash: log.BlockHash})
		}
		cache[log.BlockHash] = append(cache[log.BlockHash], log)
	}

	firstLog, lastLog := order[0], order[len(order)-1]
	if _, ok := parents[firstLog.Hash]; !ok {
		// logs from a branch the blocks do not belong to; keep the groups only
		return cache, nil
	}

	between, err := lineage.PathBetween(lastLog, firstLog, parents)
	if err != nil {
		return cache, nil
	}

	start := blocks[0].Identifier()
	below, err := lineage.PathBetween(firstLog, start, parents)
	if err != nil {
		return cache, nil
	}

	for _, path := range [][]lineage.BlockIdentifier{between, below, {start}} {
		for _, b := range path {
			if _, ok := cache[b.Hash]; !ok {
				cache[b.Hash] = []types.Log{}
			}
		}
	}

	return cache, nil
}

// bloomMayMatch reports whether a block with the given header bloom can hold
// a log passing query. The bloom has no false negatives.
func bloomMayMatch(bloom types.Bloom, query ethereum.FilterQuery) bool {
	if len(query.Addresses) > 0 {
		found := false
		for _, addr := range query.Addresses {
			if types.BloomLookup(bloom, addr) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, position := range query.Topics {
		if len(position) == 0 {
			continue
		}

		found := false
		for _, topic := range position {
			if types.BloomLookup(bloom, topic) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
