package rpc

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
	"github.com/stretchr/testify/require"
)

// ethService serves the eth_ methods the client uses over an in-process
// JSON-RPC server.
type ethService struct {
	headers []*types.Header // index is the block number
	logs    []types.Log
}

func newEthService(n int) *ethService {
	s := &ethService{}
	parent := common.Hash{}
	for i := range n {
		h := &types.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Difficulty: big.NewInt(1),
			Time:       uint64(i),
		}
		s.headers = append(s.headers, h)
		parent = h.Hash()
	}
	return s
}

func (s *ethService) GetBlockByNumber(number string, _ bool) (*types.Header, error) {
	if number == "latest" {
		return s.headers[len(s.headers)-1], nil
	}
	n, err := hexutil.DecodeUint64(number)
	if err != nil {
		return nil, err
	}
	if n >= uint64(len(s.headers)) {
		return nil, nil
	}
	return s.headers[n], nil
}

func (s *ethService) GetBlockByHash(hash common.Hash, _ bool) (*types.Header, error) {
	for _, h := range s.headers {
		if h.Hash() == hash {
			return h, nil
		}
	}
	return nil, nil
}

func (s *ethService) GetLogs(_ map[string]any) ([]types.Log, error) {
	return s.logs, nil
}

func newTestClient(t *testing.T, service *ethService) *Client {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", service))

	client := newClient(rpc.DialInProc(server), nil, nil)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func TestClient_Headers(t *testing.T) {
	t.Parallel()

	service := newEthService(5)
	client := newTestClient(t, service)
	ctx := context.Background()

	latest, err := client.LatestBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), latest.Number)
	require.Equal(t, service.headers[4].Hash(), latest.Hash)
	require.Equal(t, service.headers[3].Hash(), latest.ParentHash)

	byHash, err := client.BlockByHash(ctx, latest.ParentHash)
	require.NoError(t, err)
	require.Equal(t, uint64(3), byHash.Number)

	_, err = client.BlockByNumber(ctx, 9)
	require.ErrorIs(t, err, pkgrpc.ErrBlockNotFound)

	_, err = client.BlockByHash(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, pkgrpc.ErrBlockNotFound)
}

func TestClient_BlockRange(t *testing.T) {
	t.Parallel()

	service := newEthService(2*maxBatch + 10)
	client := newTestClient(t, service)
	ctx := context.Background()

	t.Run("spans several batches", func(t *testing.T) {
		blocks, err := client.BlockRange(ctx, 5, 2*maxBatch+5)
		require.NoError(t, err)
		require.Len(t, blocks, 2*maxBatch+1)

		for i, b := range blocks {
			require.Equal(t, uint64(5+i), b.Number)
			if i > 0 {
				require.Equal(t, blocks[i-1].Hash, b.ParentHash)
			}
		}
	})

	t.Run("single block", func(t *testing.T) {
		blocks, err := client.BlockRange(ctx, 7, 7)
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		require.Equal(t, service.headers[7].Hash(), blocks[0].Hash)
	})

	t.Run("beyond the head", func(t *testing.T) {
		_, err := client.BlockRange(ctx, 2*maxBatch+5, 2*maxBatch+20)
		require.ErrorIs(t, err, pkgrpc.ErrBlockNotFound)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := client.BlockRange(ctx, 3, 2)
		require.ErrorContains(t, err, "invalid block range [3, 2]")
	})
}

func TestClient_GetLogsSorted(t *testing.T) {
	t.Parallel()

	service := newEthService(1)
	for _, pos := range [][3]uint{{2, 0, 3}, {1, 1, 2}, {1, 0, 1}, {2, 0, 0}} {
		service.logs = append(service.logs, types.Log{
			Topics: []common.Hash{}, BlockNumber: uint64(pos[0]), TxIndex: pos[1], Index: pos[2],
		})
	}
	client := newTestClient(t, service)

	logs, err := client.GetLogs(context.Background(), ethereum.FilterQuery{FromBlock: big.NewInt(1), ToBlock: big.NewInt(2)})
	require.NoError(t, err)

	var order []uint
	for _, l := range logs {
		order = append(order, l.Index)
	}
	require.Equal(t, []uint{1, 2, 0, 3}, order)
}

func TestToFilterArg(t *testing.T) {
	t.Parallel()

	addr1 := common.HexToAddress("0x1234567890123456789012345678901234567890")
	addr2 := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	blockHash := common.HexToHash("0xdeadbeef")
	topic := common.HexToHash("0x1111")

	tests := []struct {
		name  string
		query ethereum.FilterQuery
		want  map[string]any
	}{
		{
			name: "single address and range",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(100), ToBlock: big.NewInt(200),
				Addresses: []common.Address{addr1}, Topics: [][]common.Hash{{topic}},
			},
			want: map[string]any{
				"fromBlock": "0x64", "toBlock": "0xc8", "address": addr1, "topics": [][]common.Hash{{topic}},
			},
		},
		{
			name: "several addresses",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(1), ToBlock: big.NewInt(10), Addresses: []common.Address{addr1, addr2},
			},
			want: map[string]any{
				"fromBlock": "0x1", "toBlock": "0xa", "address": []common.Address{addr1, addr2}, "topics": [][]common.Hash(nil),
			},
		},
		{
			name: "block hash wins over the range",
			query: ethereum.FilterQuery{
				BlockHash: &blockHash, FromBlock: big.NewInt(1), ToBlock: big.NewInt(2),
			},
			want: map[string]any{"blockHash": blockHash, "topics": [][]common.Hash(nil)},
		},
		{
			name:  "open range",
			query: ethereum.FilterQuery{FromBlock: big.NewInt(0)},
			want:  map[string]any{"fromBlock": "0x0", "topics": [][]common.Hash(nil)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, toFilterArg(tt.query))
		})
	}

	require.Equal(t, "0x112a880", toBlockNumArg(18000000))
}
