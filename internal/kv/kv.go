// Package kv is the ordered key/value layer underneath the entity store.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
)

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("kv storage is closed")

// Txn is the view of a storage inside Transaction. Reads observe the writes
// made earlier in the same transaction.
type Txn interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Iterator walks a key range in ascending order.
//
//	it, err := s.List(ctx, opts)
//	defer it.Close()
//	for it.Next() { ... }
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// ListOptions selects the range of a List call. Keys start at Start (or at
// Prefix when Start is lower) and stop at the first key without Prefix.
// Limit of zero means no limit.
type ListOptions struct {
	Start  string
	Prefix string
	Limit  int
}

func (o ListOptions) lowerBound() string {
	if o.Start < o.Prefix {
		return o.Prefix
	}
	return o.Start
}

// Storage is an ordered map from string keys to byte values.
type Storage interface {
	// Get returns nil and no error when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns the present keys only.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes all keys atomically.
	Delete(ctx context.Context, keys ...string) error
	// Transaction runs fn atomically. Any error returned by fn discards its writes.
	Transaction(ctx context.Context, fn func(Txn) error) error
	List(ctx context.Context, opts ListOptions) (Iterator, error)
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (Storage, error) {
	log = log.WithComponent(common.ComponentKVStore)

	switch strings.ToLower(cfg.Backend) {
	case config.BackendSQLite, "":
		return OpenSQLite(ctx, cfg.DB, cfg.Maintenance, log)
	case config.BackendPebble:
		return OpenPebble(cfg.Path, common.MBToBytes(cfg.CacheSizeMB), log)
	case config.BackendLevelDB:
		return OpenLevelDB(cfg.Path, common.MBToBytes(cfg.CacheSizeMB), log)
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}

// contains reports whether key is still inside the listed range.
func (o ListOptions) contains(key string, returned int) bool {
	if o.Limit > 0 && returned >= o.Limit {
		return false
	}
	return strings.HasPrefix(key, o.Prefix)
}

// prefixUpperBound returns the smallest key greater than every key with
// prefix, or nil when no such key exists.
func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type emptyIterator struct{}

func (emptyIterator) Next() bool    { return false }
func (emptyIterator) Key() string   { return "" }
func (emptyIterator) Value() []byte { return nil }
func (emptyIterator) Err() error    { return nil }
func (emptyIterator) Close() error  { return nil }
