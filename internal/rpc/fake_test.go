package rpc

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
	"github.com/stretchr/testify/require"
)

func TestFake_ForkMakesBranchCanonical(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFake()

	a1 := f.Extend()
	a2 := f.Extend()
	b2 := f.AddBlock(a1.Hash)
	b3 := f.Extend()

	require.Equal(t, b3.Hash, f.Head().Hash)
	require.Equal(t, b2.Hash, b3.ParentHash)
	require.Equal(t, uint64(2), b2.Number)

	byNumber, err := f.BlockByNumber(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, b2.Hash, byNumber.Hash)

	stale, err := f.BlockByHash(ctx, a2.Hash)
	require.NoError(t, err, "blocks of dead branches stay reachable by hash")
	require.Equal(t, a1.Identifier(), stale.Parent())

	blocks, err := f.BlockRange(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{a1.Hash, b2.Hash, b3.Hash}, []common.Hash{blocks[0].Hash, blocks[1].Hash, blocks[2].Hash})

	_, err = f.BlockRange(ctx, 1, 4)
	require.ErrorIs(t, err, pkgrpc.ErrBlockNotFound)
}

func TestFake_GetLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFake()

	token := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")
	transfer := common.HexToHash("0xaa")
	approval := common.HexToHash("0xbb")

	b1 := f.Extend(
		types.Log{Address: token, Topics: []common.Hash{transfer}},
		types.Log{Address: other, Topics: []common.Hash{transfer}},
	)
	f.Extend(types.Log{Address: token, Topics: []common.Hash{approval}})

	require.True(t, types.BloomLookup(b1.Bloom, token))
	require.True(t, types.BloomLookup(b1.Bloom, transfer))

	tests := []struct {
		name     string
		query    ethereum.FilterQuery
		expected int
	}{
		{name: "everything", query: ethereum.FilterQuery{}, expected: 3},
		{name: "address", query: ethereum.FilterQuery{Addresses: []common.Address{token}}, expected: 2},
		{name: "topic", query: ethereum.FilterQuery{Topics: [][]common.Hash{{transfer}}}, expected: 2},
		{name: "topic alternatives", query: ethereum.FilterQuery{Topics: [][]common.Hash{{transfer, approval}}}, expected: 3},
		{name: "more topics than the log has", query: ethereum.FilterQuery{Topics: [][]common.Hash{{}, {}}}, expected: 0},
		{name: "range", query: ethereum.FilterQuery{FromBlock: big.NewInt(2), ToBlock: big.NewInt(2)}, expected: 1},
		{name: "block hash", query: ethereum.FilterQuery{BlockHash: &b1.Hash, Addresses: []common.Address{token}}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, err := f.GetLogs(ctx, tt.query)
			require.NoError(t, err)
			require.Len(t, logs, tt.expected)
		})
	}
}

func TestFake_FailNext(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := NewFake()
	f.FailNext("latest_block", boom)

	_, err := f.LatestBlock(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = f.LatestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.Calls("latest_block"))
}

func TestInstrumented(t *testing.T) {
	t.Parallel()

	f := NewFake()
	head := f.ExtendEmpty(3)

	p := NewInstrumented(f)
	defer p.Close()

	latest, err := p.LatestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, head.Hash, latest.Hash)

	blocks, err := p.BlockRange(context.Background(), 0, 3)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
}

func TestSortLogs(t *testing.T) {
	t.Parallel()

	logs := []types.Log{
		{BlockNumber: 2, TxIndex: 0, Index: 0},
		{BlockNumber: 1, TxIndex: 1, Index: 3},
		{BlockNumber: 1, TxIndex: 1, Index: 2},
		{BlockNumber: 1, TxIndex: 0, Index: 5},
	}
	SortLogs(logs)

	type position struct{ block, tx, index uint64 }
	got := make([]position, len(logs))
	for i, l := range logs {
		got[i] = position{l.BlockNumber, uint64(l.TxIndex), uint64(l.Index)}
	}

	require.Equal(t, []position{{1, 0, 5}, {1, 1, 2}, {1, 1, 3}, {2, 0, 0}}, got)
}
