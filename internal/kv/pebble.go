package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/metrics"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
)

// PebbleStorage is a Storage backed by a pebble LSM.
type PebbleStorage struct {
	db     *pebble.DB
	closed atomic.Bool
}

var _ Storage = (*PebbleStorage)(nil)

// OpenPebble opens the pebble database in dir. An empty dir opens an
// in-memory database.
func OpenPebble(dir string, cacheBytes uint64, log *logger.Logger) (*PebbleStorage, error) {
	cache := pebble.NewCache(int64(cacheBytes)) //nolint:gosec
	defer cache.Unref()

	opts := &pebble.Options{Cache: cache}
	if dir == "" {
		dir = "mem"
		opts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	log.Infof("opened pebble kv store at %q", dir)

	return &PebbleStorage{db: db}, nil
}

func (s *PebbleStorage) begin(op string) (func(error), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	return func(err error) {
		metrics.KVOperation(config.BackendPebble, op, start, err)
	}, nil
}

// Get implements Storage.
func (s *PebbleStorage) Get(_ context.Context, key string) (value []byte, err error) {
	done, err := s.begin("get")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	return pebbleGet(s.db, key)
}

// GetMany implements Storage.
func (s *PebbleStorage) GetMany(_ context.Context, keys []string) (result map[string][]byte, err error) {
	done, err := s.begin("get_many")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	snap := s.db.NewSnapshot()
	defer snap.Close()

	result = make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := pebbleGet(snap, key)
		if err != nil {
			return nil, err
		}
		if value != nil {
			result[key] = value
		}
	}

	return result, nil
}

// Put implements Storage.
func (s *PebbleStorage) Put(_ context.Context, key string, value []byte) (err error) {
	done, err := s.begin("put")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Delete implements Storage.
func (s *PebbleStorage) Delete(_ context.Context, keys ...string) (err error) {
	done, err := s.begin("delete")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, key := range keys {
		if err := batch.Delete([]byte(key), nil); err != nil {
			return fmt.Errorf("failed to delete %q: %w", key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit delete batch: %w", err)
	}
	return nil
}

// Transaction implements Storage using an indexed batch, which lets reads
// inside fn see its own writes.
func (s *PebbleStorage) Transaction(_ context.Context, fn func(Txn) error) (err error) {
	done, err := s.begin("transaction")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTxn{batch: batch}); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List implements Storage.
func (s *PebbleStorage) List(ctx context.Context, opts ListOptions) (Iterator, error) {
	done, err := s.begin("list")
	if err != nil {
		return nil, err
	}

	iterOpts := &pebble.IterOptions{LowerBound: []byte(opts.lowerBound())}
	if upper := prefixUpperBound(opts.Prefix); upper != nil {
		if bytes.Compare(iterOpts.LowerBound, upper) >= 0 {
			done(nil)
			return emptyIterator{}, nil
		}
		iterOpts.UpperBound = upper
	}

	iter, err := s.db.NewIter(iterOpts)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}

	return &pebbleIterator{ctx: ctx, iter: iter, opts: opts}, nil
}

// Close implements Storage.
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type pebbleTxn struct {
	batch *pebble.Batch
}

func (t *pebbleTxn) Get(key string) ([]byte, error) {
	return pebbleGet(t.batch, key)
}

func (t *pebbleTxn) Put(key string, value []byte) error {
	return t.batch.Set([]byte(key), value, nil)
}

func (t *pebbleTxn) Delete(key string) error {
	return t.batch.Delete([]byte(key), nil)
}

func pebbleGet(r pebble.Reader, key string) ([]byte, error) {
	value, closer, err := r.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	// value is only valid until closer is closed
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

type pebbleIterator struct {
	ctx      context.Context //nolint:containedctx
	iter     *pebble.Iterator
	opts     ListOptions
	started  bool
	returned int
	err      error
}

func (it *pebbleIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	var valid bool
	if !it.started {
		valid = it.iter.First()
		it.started = true
	} else {
		valid = it.iter.Next()
	}

	if !valid || !it.opts.contains(string(it.iter.Key()), it.returned) {
		return false
	}

	it.returned++
	return true
}

func (it *pebbleIterator) Key() string {
	return string(it.iter.Key())
}

func (it *pebbleIterator) Value() []byte {
	value := it.iter.Value()
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}
