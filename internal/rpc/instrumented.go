package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
)

var _ pkgrpc.ChainProvider = (*Instrumented)(nil)

// Instrumented records call counts, errors and latencies of a provider.
type Instrumented struct {
	next pkgrpc.ChainProvider
}

// NewInstrumented wraps next.
func NewInstrumented(next pkgrpc.ChainProvider) *Instrumented {
	return &Instrumented{next: next}
}

// Close implements pkgrpc.ChainProvider.
func (i *Instrumented) Close() {
	i.next.Close()
}

// LatestBlock implements pkgrpc.ChainProvider.
func (i *Instrumented) LatestBlock(ctx context.Context) (block *pkgrpc.Block, err error) {
	err = instrument("latest_block", func() error {
		block, err = i.next.LatestBlock(ctx)
		return err
	})
	return block, err
}

// BlockByHash implements pkgrpc.ChainProvider.
func (i *Instrumented) BlockByHash(ctx context.Context, hash common.Hash) (block *pkgrpc.Block, err error) {
	err = instrument("block_by_hash", func() error {
		block, err = i.next.BlockByHash(ctx, hash)
		return err
	})
	return block, err
}

// BlockByNumber implements pkgrpc.ChainProvider.
func (i *Instrumented) BlockByNumber(ctx context.Context, number uint64) (block *pkgrpc.Block, err error) {
	err = instrument("block_by_number", func() error {
		block, err = i.next.BlockByNumber(ctx, number)
		return err
	})
	return block, err
}

// BlockRange implements pkgrpc.ChainProvider.
func (i *Instrumented) BlockRange(ctx context.Context, from, to uint64) (blocks []*pkgrpc.Block, err error) {
	err = instrument("block_range", func() error {
		blocks, err = i.next.BlockRange(ctx, from, to)
		return err
	})
	return blocks, err
}

// GetLogs implements pkgrpc.ChainProvider.
func (i *Instrumented) GetLogs(ctx context.Context, query ethereum.FilterQuery) (logs []types.Log, err error) {
	err = instrument("get_logs", func() error {
		logs, err = i.next.GetLogs(ctx, query)
		return err
	})
	return logs, err
}
