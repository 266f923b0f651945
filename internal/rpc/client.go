package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	internalcommon "github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/EntityIndexor/pkg/rpc"
)

var _ pkgrpc.ChainProvider = (*Client)(nil)

const maxBatch = 100

// Client is the JSON-RPC chain provider. Every call is retried according to
// its retry configuration.
type Client struct {
	eth   *ethclient.Client
	rpc   *rpc.Client
	retry *config.RetryConfig
	log   *logger.Logger
}

// NewClient connects to endpoint. A nil retry config makes every call a
// single attempt.
func NewClient(ctx context.Context, endpoint string, retry *config.RetryConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return newClient(rpcClient, retry, log), nil
}

func newClient(rpcClient *rpc.Client, retry *config.RetryConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &Client{
		eth:   ethclient.NewClient(rpcClient),
		rpc:   rpcClient,
		retry: retry,
		log:   log.WithComponent(internalcommon.ComponentChainProvider),
	}
}

// Close implements pkgrpc.ChainProvider.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) header(ctx context.Context, method string, fetch func(ctx context.Context) (*types.Header, error)) (*pkgrpc.Block, error) {
	var header *types.Header
	err := withRetry(ctx, c.retry, c.log, method, func(ctx context.Context) error {
		h, err := fetch(ctx)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, pkgrpc.ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}

	return pkgrpc.BlockFromHeader(header), nil
}

// LatestBlock implements pkgrpc.ChainProvider.
func (c *Client) LatestBlock(ctx context.Context) (*pkgrpc.Block, error) {
	return c.header(ctx, "latest_block", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, nil)
	})
}

// BlockByHash implements pkgrpc.ChainProvider.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.Block, error) {
	block, err := c.header(ctx, "block_by_hash", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByHash(ctx, hash)
	})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), err)
	}
	return block, nil
}

// BlockByNumber implements pkgrpc.ChainProvider.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*pkgrpc.Block, error) {
	block, err := c.header(ctx, "block_by_number", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, err)
	}
	return block, nil
}

// BlockRange implements pkgrpc.ChainProvider. Headers are requested in JSON-RPC
// batches of up to 100.
func (c *Client) BlockRange(ctx context.Context, from, to uint64) ([]*pkgrpc.Block, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}

	blocks := make([]*pkgrpc.Block, 0, to-from+1)

	for start := from; start <= to; start += maxBatch {
		end := min(start+maxBatch-1, to)

		headers := make([]*types.Header, end-start+1)
		err := withRetry(ctx, c.retry, c.log, "block_range", func(ctx context.Context) error {
			batch := make([]rpc.BatchElem, len(headers))
			for i := range headers {
				headers[i] = nil
				batch[i] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(start + uint64(i)), false},
					Result: &headers[i],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for i, h := range headers {
			if h == nil {
				return nil, fmt.Errorf("block %d: %w", start+uint64(i), pkgrpc.ErrBlockNotFound)
			}
			blocks = append(blocks, pkgrpc.BlockFromHeader(h))
		}

		if end == to {
			break
		}
	}

	return blocks, nil
}

// GetLogs implements pkgrpc.ChainProvider.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, c.retry, c.log, "get_logs", func(ctx context.Context) error {
		logs = nil
		return c.rpc.CallContext(ctx, &logs, "eth_getLogs", toFilterArg(query))
	})
	if err != nil {
		return nil, err
	}

	SortLogs(logs)
	return logs, nil
}

// SortLogs orders logs by block number, transaction index and log index.
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.Index < b.Index
	})
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) == 1 {
		arg["address"] = q.Addresses[0]
	} else if len(q.Addresses) > 1 {
		arg["address"] = q.Addresses
	}

	return arg
}

func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
