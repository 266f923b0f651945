package follower

import (
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
	"github.com/stretchr/testify/require"
)

func testChain(n int) []*pkgrpc.Block {
	blocks := make([]*pkgrpc.Block, 0, n)
	parent := common.Hash{}
	for i := range n {
		b := &pkgrpc.Block{Number: uint64(i + 1), Hash: common.BytesToHash([]byte{byte(i + 1), 0xaa}), ParentHash: parent}
		blocks = append(blocks, b)
		parent = b.Hash
	}
	return blocks
}

func logIn(b *pkgrpc.Block, index uint) types.Log {
	return types.Log{BlockNumber: b.Number, BlockHash: b.Hash, Index: index}
}

func TestMakeLogsCache(t *testing.T) {
	t.Parallel()

	blocks := testChain(5)

	t.Run("fills the range up to the last log block", func(t *testing.T) {
		cache, err := makeLogsCache([]types.Log{logIn(blocks[1], 0), logIn(blocks[1], 1), logIn(blocks[3], 0)}, blocks)
		require.NoError(t, err)

		require.Len(t, cache[blocks[1].Hash], 2)
		require.Len(t, cache[blocks[3].Hash], 1)

		for _, empty := range []*pkgrpc.Block{blocks[0], blocks[2]} {
			logs, ok := cache[empty.Hash]
			require.True(t, ok, "block %d is known to have no logs", empty.Number)
			require.Empty(t, logs)
		}

		_, ok := cache[blocks[4].Hash]
		require.False(t, ok, "block 5 is past the last log block")
	})

	t.Run("single log block at the end", func(t *testing.T) {
		cache, err := makeLogsCache([]types.Log{logIn(blocks[4], 0)}, blocks)
		require.NoError(t, err)
		require.Len(t, cache, 5)
		require.Len(t, cache[blocks[4].Hash], 1)
	})

	t.Run("single foreign log block", func(t *testing.T) {
		foreign := &pkgrpc.Block{Number: 3, Hash: common.HexToHash("0xf3")}
		cache, err := makeLogsCache([]types.Log{logIn(foreign, 0)}, blocks)
		require.NoError(t, err)
		require.Len(t, cache, 1)
	})

	t.Run("no logs proves nothing", func(t *testing.T) {
		cache, err := makeLogsCache(nil, blocks)
		require.NoError(t, err)
		require.Empty(t, cache)
	})

	t.Run("logs from another branch", func(t *testing.T) {
		foreign := &pkgrpc.Block{Number: 3, Hash: common.HexToHash("0xf3")}
		cache, err := makeLogsCache([]types.Log{logIn(blocks[0], 0), logIn(foreign, 0)}, blocks)
		require.NoError(t, err)
		require.Len(t, cache, 2)
		_, ok := cache[blocks[1].Hash]
		require.False(t, ok)
	})

	t.Run("blocks that are not a chain", func(t *testing.T) {
		broken := testChain(3)
		broken[2].ParentHash = common.HexToHash("0xbad")

		_, err := makeLogsCache(nil, broken)
		require.ErrorContains(t, err, "block range 1..3 is not a chain")
	})
}

func TestBloomMayMatch(t *testing.T) {
	t.Parallel()

	address := common.HexToAddress("0x01")
	topic := common.HexToHash("0x02")

	var bloom types.Bloom
	bloom.Add(address.Bytes())
	bloom.Add(topic.Bytes())

	tests := []struct {
		name     string
		query    ethereum.FilterQuery
		expected bool
	}{
		{name: "empty filter", query: ethereum.FilterQuery{}, expected: true},
		{name: "address present", query: ethereum.FilterQuery{Addresses: []common.Address{common.HexToAddress("0x09"), address}}, expected: true},
		{name: "address absent", query: ethereum.FilterQuery{Addresses: []common.Address{common.HexToAddress("0x09")}}, expected: false},
		{name: "topic present", query: ethereum.FilterQuery{Addresses: []common.Address{address}, Topics: [][]common.Hash{{topic}}}, expected: true},
		{name: "topic absent", query: ethereum.FilterQuery{Topics: [][]common.Hash{{common.HexToHash("0x09")}}}, expected: false},
		{name: "wildcard slot", query: ethereum.FilterQuery{Topics: [][]common.Hash{{}, {topic}}}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, bloomMayMatch(bloom, tt.query))
		})
	}

	require.False(t, bloomMayMatch(types.Bloom{}, ethereum.FilterQuery{Addresses: []common.Address{address}}))
}
