package rpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
)

var _ pkgrpc.ChainProvider = (*Fake)(nil)

// Fake is an in-memory chain for tests. Blocks can be added on top of any
// known block, which makes the new block's branch canonical.
type Fake struct {
	mu sync.Mutex

	blocks    map[common.Hash]*pkgrpc.Block
	logs      map[common.Hash][]types.Log
	canonical []common.Hash
	nonce     uint64

	calls    map[string]int
	failures map[string][]error
}

// NewFake returns a chain holding only block 0.
func NewFake() *Fake {
	f := &Fake{
		blocks:   make(map[common.Hash]*pkgrpc.Block),
		logs:     make(map[common.Hash][]types.Log),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}

	genesis := &pkgrpc.Block{Number: 0, Hash: f.nextHash(common.Hash{})}
	f.blocks[genesis.Hash] = genesis
	f.canonical = []common.Hash{genesis.Hash}

	return f
}

func (f *Fake) nextHash(parent common.Hash) common.Hash {
	f.nonce++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], f.nonce)
	return crypto.Keccak256Hash(parent.Bytes(), n[:])
}

// Genesis returns block 0.
func (f *Fake) Genesis() *pkgrpc.Block {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.blocks[f.canonical[0]]
}

// Head returns the canonical head.
func (f *Fake) Head() *pkgrpc.Block {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.blocks[f.canonical[len(f.canonical)-1]]
}

// Extend adds a block carrying logs on top of the canonical head.
func (f *Fake) Extend(logs ...types.Log) *pkgrpc.Block {
	return f.AddBlock(f.Head().Hash, logs...)
}

// ExtendEmpty adds n empty blocks on top of the canonical head.
func (f *Fake) ExtendEmpty(n int) *pkgrpc.Block {
	var head *pkgrpc.Block
	for range n {
		head = f.Extend()
	}
	return head
}

// AddBlock adds a block carrying logs on top of parent and makes it the
// canonical head. Block fields of the logs are filled in.
func (f *Fake) AddBlock(parent common.Hash, logs ...types.Log) *pkgrpc.Block {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.blocks[parent]
	if !ok {
		panic(fmt.Sprintf("fake chain: unknown parent %s", parent.Hex()))
	}

	block := &pkgrpc.Block{Number: p.Number + 1, Hash: f.nextHash(parent), ParentHash: parent}

	stored := make([]types.Log, len(logs))
	for i, log := range logs {
		log.BlockNumber = block.Number
		log.BlockHash = block.Hash
		log.TxIndex = uint(i)
		log.Index = uint(i)
		stored[i] = log

		block.Bloom.Add(log.Address.Bytes())
		for _, topic := range log.Topics {
			block.Bloom.Add(topic.Bytes())
		}
	}

	f.blocks[block.Hash] = block
	f.logs[block.Hash] = stored
	f.canonical = append(f.canonical[:block.Number], block.Hash)

	return block
}

// FailNext makes the next calls of method return errs, one per call.
func (f *Fake) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[method] = append(f.failures[method], errs...)
}

// Calls returns how often method was called.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[method]
}

// call records a call of method and returns its injected failure, if any.
// It must be called with mu held.
func (f *Fake) call(method string) error {
	f.calls[method]++

	if pending := f.failures[method]; len(pending) > 0 {
		f.failures[method] = pending[1:]
		return pending[0]
	}
	return nil
}

// Close implements pkgrpc.ChainProvider.
func (f *Fake) Close() {}

// LatestBlock implements pkgrpc.ChainProvider.
func (f *Fake) LatestBlock(_ context.Context) (*pkgrpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("latest_block"); err != nil {
		return nil, err
	}

	head := *f.blocks[f.canonical[len(f.canonical)-1]]
	return &head, nil
}

// BlockByHash implements pkgrpc.ChainProvider.
func (f *Fake) BlockByHash(_ context.Context, hash common.Hash) (*pkgrpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("block_by_hash"); err != nil {
		return nil, err
	}

	block, ok := f.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), pkgrpc.ErrBlockNotFound)
	}

	b := *block
	return &b, nil
}

// BlockByNumber implements pkgrpc.ChainProvider.
func (f *Fake) BlockByNumber(_ context.Context, number uint64) (*pkgrpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("block_by_number"); err != nil {
		return nil, err
	}

	if number >= uint64(len(f.canonical)) {
		return nil, fmt.Errorf("block %d: %w", number, pkgrpc.ErrBlockNotFound)
	}

	b := *f.blocks[f.canonical[number]]
	return &b, nil
}

// BlockRange implements pkgrpc.ChainProvider.
func (f *Fake) BlockRange(_ context.Context, from, to uint64) ([]*pkgrpc.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("block_range"); err != nil {
		return nil, err
	}

	if to < from {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}
	if to >= uint64(len(f.canonical)) {
		return nil, fmt.Errorf("block %d: %w", to, pkgrpc.ErrBlockNotFound)
	}

	blocks := make([]*pkgrpc.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		b := *f.blocks[f.canonical[n]]
		blocks = append(blocks, &b)
	}

	return blocks, nil
}

// GetLogs implements pkgrpc.ChainProvider.
func (f *Fake) GetLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("get_logs"); err != nil {
		return nil, err
	}

	var hashes []common.Hash
	if query.BlockHash != nil {
		if _, ok := f.blocks[*query.BlockHash]; !ok {
			return nil, fmt.Errorf("block %s: %w", query.BlockHash.Hex(), pkgrpc.ErrBlockNotFound)
		}
		hashes = []common.Hash{*query.BlockHash}
	} else {
		from, to := uint64(0), uint64(len(f.canonical)-1)
		if query.FromBlock != nil {
			from = query.FromBlock.Uint64()
		}
		if query.ToBlock != nil {
			to = min(to, query.ToBlock.Uint64())
		}
		for n := from; n <= to && n < uint64(len(f.canonical)); n++ {
			hashes = append(hashes, f.canonical[n])
		}
	}

	var out []types.Log
	for _, hash := range hashes {
		for _, log := range f.logs[hash] {
			if MatchesFilter(&log, query) {
				out = append(out, log)
			}
		}
	}

	SortLogs(out)
	return out, nil
}

// MatchesFilter reports whether log passes the address and topic filter of
// query. Each topic position matches any of its hashes and an empty position
// matches everything. A log with fewer topics than the query never matches.
func MatchesFilter(log *types.Log, query ethereum.FilterQuery) bool {
	if len(query.Addresses) > 0 && !slices.Contains(query.Addresses, log.Address) {
		return false
	}

	if len(query.Topics) > len(log.Topics) {
		return false
	}

	for i, position := range query.Topics {
		if len(position) > 0 && !slices.Contains(position, log.Topics[i]) {
			return false
		}
	}

	return true
}
