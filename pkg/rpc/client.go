package rpc

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
)

// MaxBlockRange is the largest number of blocks requested in one range call.
const MaxBlockRange = 1000

// ErrBlockNotFound is returned when the chain does not know a block.
var ErrBlockNotFound = errors.New("block not found")

// Block is the part of a block header the follower works with.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Bloom      types.Bloom
}

// BlockFromHeader converts a header.
func BlockFromHeader(h *types.Header) *Block {
	return &Block{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Bloom:      h.Bloom,
	}
}

// Identifier returns the identifier of b.
func (b *Block) Identifier() lineage.BlockIdentifier {
	return lineage.BlockIdentifier{Number: b.Number, Hash: b.Hash}
}

// Parent returns the identifier of the parent of b.
func (b *Block) Parent() lineage.BlockIdentifier {
	return lineage.Parent(b.Number, b.ParentHash)
}

// ChainProvider supplies blocks and logs of one chain.
type ChainProvider interface {
	// Close releases the provider's connections.
	Close()

	// LatestBlock returns the head of the chain.
	LatestBlock(ctx context.Context) (*Block, error)

	// BlockByHash returns the block with the given hash.
	BlockByHash(ctx context.Context, hash common.Hash) (*Block, error)

	// BlockByNumber returns the canonical block at number.
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// BlockRange returns the canonical blocks from..to, both inclusive, in
	// ascending order.
	BlockRange(ctx context.Context, from, to uint64) ([]*Block, error)

	// GetLogs returns the logs matching query ordered by block number,
	// transaction index and log index.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}
