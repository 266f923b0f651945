package kv

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/metrics"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var syncWrites = &opt.WriteOptions{Sync: true}

// LevelDBStorage is a Storage backed by goleveldb.
type LevelDBStorage struct {
	db     *leveldb.DB
	closed atomic.Bool
}

var _ Storage = (*LevelDBStorage)(nil)

// OpenLevelDB opens the database in dir. An empty dir opens an in-memory
// database.
func OpenLevelDB(dir string, cacheBytes uint64, log *logger.Logger) (*LevelDBStorage, error) {
	var (
		db  *leveldb.DB
		err error
	)

	if dir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(dir, &opt.Options{BlockCacheCapacity: int(cacheBytes)}) //nolint:gosec
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	log.Infof("opened leveldb kv store at %q", dir)

	return &LevelDBStorage{db: db}, nil
}

func (s *LevelDBStorage) begin(op string) (func(error), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	return func(err error) {
		metrics.KVOperation(config.BackendLevelDB, op, start, err)
	}, nil
}

type leveldbReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

func leveldbGet(r leveldbReader, key string) ([]byte, error) {
	value, err := r.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return nonNil(value), nil
}

// Get implements Storage.
func (s *LevelDBStorage) Get(_ context.Context, key string) (value []byte, err error) {
	done, err := s.begin("get")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	return leveldbGet(s.db, key)
}

// GetMany implements Storage.
func (s *LevelDBStorage) GetMany(_ context.Context, keys []string) (result map[string][]byte, err error) {
	done, err := s.begin("get_many")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}
	defer snap.Release()

	result = make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := leveldbGet(snap, key)
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
func (s *LevelDBStorage) Put(_ context.Context, key string, value []byte) (err error) {
	done, err := s.begin("put")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	if err := s.db.Put([]byte(key), value, syncWrites); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Delete implements Storage.
func (s *LevelDBStorage) Delete(_ context.Context, keys ...string) (err error) {
	done, err := s.begin("delete")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	batch := new(leveldb.Batch)
	for _, key := range keys {
		batch.Delete([]byte(key))
	}

	if err := s.db.Write(batch, syncWrites); err != nil {
		return fmt.Errorf("failed to write delete batch: %w", err)
	}
	return nil
}

// Transaction implements Storage. Other writers are blocked until fn returns.
func (s *LevelDBStorage) Transaction(_ context.Context, fn func(Txn) error) (err error) {
	done, err := s.begin("transaction")
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}

	if err := fn(&leveldbTxn{tr: tr}); err != nil {
		tr.Discard()
		return err
	}

	if err := tr.Commit(); err != nil {
		tr.Discard()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List implements Storage.
func (s *LevelDBStorage) List(ctx context.Context, opts ListOptions) (Iterator, error) {
	done, err := s.begin("list")
	if err != nil {
		return nil, err
	}
	defer done(nil)

	rng := util.BytesPrefix([]byte(opts.Prefix))
	rng.Start = []byte(opts.lowerBound())

	return &leveldbIterator{ctx: ctx, iter: s.db.NewIterator(rng, nil), opts: opts}, nil
}

// Close implements Storage.
func (s *LevelDBStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type leveldbTxn struct {
	tr *leveldb.Transaction
}

func (t *leveldbTxn) Get(key string) ([]byte, error) {
	return leveldbGet(t.tr, key)
}

func (t *leveldbTxn) Put(key string, value []byte) error {
	return t.tr.Put([]byte(key), value, nil)
}

func (t *leveldbTxn) Delete(key string) error {
	return t.tr.Delete([]byte(key), nil)
}

type leveldbIterator struct {
	ctx      context.Context //nolint:containedctx
	iter     iterator.Iterator
	opts     ListOptions
	returned int
	err      error
}

func (it *leveldbIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if !it.iter.Next() || !it.opts.contains(string(it.iter.Key()), it.returned) {
		return false
	}

	it.returned++
	return true
}

func (it *leveldbIterator) Key() string {
	return string(it.iter.Key())
}

func (it *leveldbIterator) Value() []byte {
	value := it.iter.Value()
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (it *leveldbIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *leveldbIterator) Close() error {
	it.iter.Release()
	return nil
}
