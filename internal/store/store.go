// Package store persists finalized entities and their secondary indexes.
//
// A flush applies many operations, each in its own transaction, and records
// the value every operation overwrote in an undo log. The flush commits when
// undo entry 0 is deleted. A store opened after a crash before that point
// restores every logged value, so the store always holds the state before or
// after a flush and never a mix of both.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/kv"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

const batchSize = 128

// UndoLogEntry records the value a flush operation overwrote.
type UndoLogEntry struct {
	Key      string `cbor:"1,keyasint"`
	Previous []byte `cbor:"2,keyasint"`
	Existed  bool   `cbor:"3,keyasint"`
}

// EntityStore is the persisted entity/index store.
type EntityStore struct {
	kv    kv.Storage
	kinds *serde.Kinds
	log   *logger.Logger

	// mu serializes flushes with recovery.
	mu        sync.Mutex
	recovered atomic.Bool
	// strayUndo is set when the undo log of a committed flush was not fully
	// cleared. Guarded by mu.
	strayUndo bool
}

// New returns a store over storage. It must be recovered with
// EnsureConsistentState before use.
func New(storage kv.Storage, kinds *serde.Kinds, log *logger.Logger) *EntityStore {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &EntityStore{
		kv:    storage,
		kinds: kinds,
		log:   log.WithComponent(common.ComponentEntityStore),
	}
}

// Kinds returns the entity types the store knows how to index.
func (s *EntityStore) Kinds() *serde.Kinds {
	return s.kinds
}

func (s *EntityStore) checkRecovered() error {
	if !s.recovered.Load() {
		return ErrNotRecovered
	}
	return nil
}

// EnsureConsistentState rolls back a flush interrupted before it committed
// and removes leftovers of a committed one. It is idempotent and safe to
// call again after it fails part way.
func (s *EntityStore) EnsureConsistentState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, err := s.kv.Get(ctx, undoLogKey(0))
	if err != nil {
		return fmt.Errorf("failed to read undo log: %w", err)
	}

	flag, err := s.kv.Get(ctx, rollingBackStartedKey)
	if err != nil {
		return fmt.Errorf("failed to read rollback flag: %w", err)
	}

	if first != nil || flag != nil {
		if err := s.rollback(ctx); err != nil {
			return err
		}
	} else if err := s.purgeUndoLog(ctx); err != nil {
		return err
	}

	s.strayUndo = false
	s.recovered.Store(true)

	return nil
}

func (s *EntityStore) undoLogKeys(ctx context.Context) ([]string, error) {
	it, err := s.kv.List(ctx, kv.ListOptions{Prefix: undoLogPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to list undo log: %w", err)
	}
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list undo log: %w", err)
	}

	return keys, nil
}

// rollback restores undo entries newest first. A key written twice by one
// flush thereby ends at the value it had before the first write.
func (s *EntityStore) rollback(ctx context.Context) error {
	s.log.Warn("interrupted flush detected, rolling back undo log")

	if err := s.kv.Put(ctx, rollingBackStartedKey, []byte{1}); err != nil {
		return fmt.Errorf("failed to set rollback flag: %w", err)
	}

	keys, err := s.undoLogKeys(ctx)
	if err != nil {
		return err
	}

	for i := len(keys) - 1; i >= 0; i-- {
		undoKey := keys[i]

		err := s.kv.Transaction(ctx, func(txn kv.Txn) error {
			data, err := txn.Get(undoKey)
			if err != nil {
				return err
			}
			if data == nil {
				return nil
			}

			var entry UndoLogEntry
			if err := cbor.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("failed to decode undo log entry %s: %w", undoKey, err)
			}

			if entry.Existed {
				err = txn.Put(entry.Key, entry.Previous)
			} else {
				err = txn.Delete(entry.Key)
			}
			if err != nil {
				return err
			}

			return txn.Delete(undoKey)
		})
		if err != nil {
			return fmt.Errorf("failed to roll back %s: %w", undoKey, err)
		}
	}

	if err := s.kv.Delete(ctx, rollingBackStartedKey); err != nil {
		return fmt.Errorf("failed to clear rollback flag: %w", err)
	}

	rollbackObserve(len(keys))
	s.log.Infow("undo log rolled back", "entries", len(keys))

	return nil
}

// purgeUndoLog drops undo entries of a flush that already committed.
func (s *EntityStore) purgeUndoLog(ctx context.Context) error {
	keys, err := s.undoLogKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		if err := s.kv.Delete(ctx, keys[start:end]...); err != nil {
			return fmt.Errorf("failed to purge undo log: %w", err)
		}
	}

	s.log.Infow("purged undo log of committed flush", "entries", len(keys))
	return nil
}

// FlushUpdates persists the entities changed by block and moves the
// finalized block pointer to it. On error the store refuses further use
// until EnsureConsistentState has rolled the partial flush back.
func (s *EntityStore) FlushUpdates(ctx context.Context, block lineage.BlockIdentifier, changed []staging.EntityWithMetadata) error {
	if err := s.checkRecovered(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.strayUndo {
		if err := s.purgeUndoLog(ctx); err != nil {
			return err
		}
		s.strayUndo = false
	}

	previous, err := s.getFinalizedBlock(ctx)
	if err != nil {
		return err
	}
	if previous != nil && block.Number <= previous.Number {
		return fmt.Errorf("block %s does not extend finalized block %s", block, previous)
	}

	changes, err := s.readOldValues(ctx, changed)
	if err != nil {
		return err
	}

	ops, err := UpdatesForEntities(block, previous, changes, s.kinds)
	if err != nil {
		return fmt.Errorf("failed to derive updates for block %s: %w", block, err)
	}

	for seq, op := range ops {
		if err := s.apply(ctx, uint64(seq), op); err != nil {
			s.recovered.Store(false)
			return fmt.Errorf("failed to apply %s %s: %w", op.Type, op.Key, err)
		}
	}

	if err := s.clearUndoLog(ctx, len(ops)); err != nil {
		return err
	}

	flushObserve(start, len(changed), ops, block.Number)
	s.log.Debugw("flushed block",
		"block", block.Number,
		"hash", block.Hash.Hex(),
		"entities", len(changed),
		"operations", len(ops),
	)

	return nil
}

func (s *EntityStore) readOldValues(ctx context.Context, changed []staging.EntityWithMetadata) ([]EntityChange, error) {
	changes := make([]EntityChange, len(changed))

	for start := 0; start < len(changed); start += batchSize {
		end := min(start+batchSize, len(changed))

		keys := make([]string, 0, end-start)
		for _, e := range changed[start:end] {
			keys = append(keys, e.Key())
		}

		values, err := s.kv.GetMany(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("failed to read persisted entities: %w", err)
		}

		for i, e := range changed[start:end] {
			changes[start+i] = EntityChange{
				EntityType: e.EntityType,
				ID:         e.ID,
				New:        e.Value,
				Old:        values[keys[i]],
			}
		}
	}

	return changes, nil
}

func (s *EntityStore) apply(ctx context.Context, seq uint64, op VersionedOperation) error {
	entry, err := cbor.Marshal(UndoLogEntry{
		Key:      op.Key,
		Previous: op.Previous,
		Existed:  op.Previous != nil,
	})
	if err != nil {
		return fmt.Errorf("failed to encode undo log entry: %w", err)
	}

	return s.kv.Transaction(ctx, func(txn kv.Txn) error {
		switch op.Type {
		case OpPut:
			err = txn.Put(op.Key, op.Value)
		case OpDelete:
			err = txn.Delete(op.Key)
		default:
			err = fmt.Errorf("unknown operation %s", op.Type)
		}
		if err != nil {
			return err
		}

		return txn.Put(undoLogKey(seq), entry)
	})
}

// clearUndoLog deletes the undo log of a flush of n operations in ascending
// batches. The first batch holds entry 0 and commits the flush.
func (s *EntityStore) clearUndoLog(ctx context.Context, n int) error {
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		keys := make([]string, 0, end-start)
		for seq := start; seq < end; seq++ {
			keys = append(keys, undoLogKey(uint64(seq)))
		}

		if err := s.kv.Delete(ctx, keys...); err != nil {
			if start == 0 {
				s.recovered.Store(false)
				return fmt.Errorf("failed to commit flush: %w", err)
			}

			s.strayUndo = true
			s.log.Warnw("failed to clear undo log of committed flush", "from", start, "error", err)
			return nil
		}
	}

	return nil
}

// GetEntity returns the persisted bytes of an entity, or nil if it does not
// exist.
func (s *EntityStore) GetEntity(ctx context.Context, entityType, id string) ([]byte, error) {
	if err := s.checkRecovered(); err != nil {
		return nil, err
	}

	data, err := s.kv.Get(ctx, entityKey(entityType, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s/%s: %w", entityType, id, err)
	}

	return data, nil
}

// GetFinalizedBlock returns the last flushed block, or nil for an empty
// store.
func (s *EntityStore) GetFinalizedBlock(ctx context.Context) (*lineage.BlockIdentifier, error) {
	if err := s.checkRecovered(); err != nil {
		return nil, err
	}

	return s.getFinalizedBlock(ctx)
}

func (s *EntityStore) getFinalizedBlock(ctx context.Context) (*lineage.BlockIdentifier, error) {
	data, err := s.kv.Get(ctx, latestBlockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get finalized block: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var block lineage.BlockIdentifier
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to decode finalized block: %w", err)
	}

	return &block, nil
}

// InitializeFinalizedBlock sets the finalized block of an empty store.
func (s *EntityStore) InitializeFinalizedBlock(ctx context.Context, block lineage.BlockIdentifier) error {
	if err := s.checkRecovered(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getFinalizedBlock(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("store is already finalized up to block %s", existing)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode block %s: %w", block, err)
	}

	if err := s.kv.Put(ctx, latestBlockKey, data); err != nil {
		return fmt.Errorf("failed to store finalized block: %w", err)
	}

	finalizedBlockNumber.Set(float64(block.Number))
	s.log.Infow("initialized finalized block", "block", block.Number, "hash", block.Hash.Hex())

	return nil
}

// IndexEntry is one persisted index entry together with its entity.
type IndexEntry struct {
	// Key is the full index entry key.
	Key      string
	IndexKey string
	EntityID string
	Value    any
}

// EntityIterator walks one index in key order.
type EntityIterator struct {
	store   *EntityStore
	kind    serde.Kind
	it      kv.Iterator
	visited map[string]struct{}
}

// GetEntities returns the persisted entities matching query in index-key
// order. Entities whose id is in visited are skipped and every yielded id is
// added to it. A nil visited starts empty.
func (s *EntityStore) GetEntities(
	ctx context.Context,
	entityType, index string,
	query reader.IndexQuery,
	visited map[string]struct{},
) (*EntityIterator, error) {
	if err := s.checkRecovered(); err != nil {
		return nil, err
	}

	kind, err := s.kinds.Get(entityType)
	if err != nil {
		return nil, err
	}
	if !hasIndex(kind, index) {
		return nil, fmt.Errorf("%w %q on entity %s", serde.ErrUnknownIndex, index, entityType)
	}

	prefix, start := ResolveIndexQuery(entityType, index, query)

	it, err := s.kv.List(ctx, kv.ListOptions{Prefix: prefix, Start: start})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index %s: %w", prefix, err)
	}

	if visited == nil {
		visited = make(map[string]struct{})
	}

	return &EntityIterator{store: s, kind: kind, it: it, visited: visited}, nil
}

// Next returns the next entry, or false once the index is exhausted.
func (e *EntityIterator) Next(ctx context.Context) (IndexEntry, bool, error) {
	for e.it.Next() {
		key := e.it.Key()
		id := string(e.it.Value())

		if _, ok := e.visited[id]; ok {
			continue
		}
		e.visited[id] = struct{}{}

		data, err := e.store.kv.Get(ctx, entityKey(e.kind.EntityType(), id))
		if err != nil {
			return IndexEntry{}, false, fmt.Errorf("failed to get entity %s/%s: %w", e.kind.EntityType(), id, err)
		}
		if data == nil {
			return IndexEntry{}, false, &IndexCorruptionError{IndexKey: key, EntityID: id}
		}

		value, err := e.kind.Deserialize(data)
		if err != nil {
			return IndexEntry{}, false, fmt.Errorf("failed to deserialize %s/%s: %w", e.kind.EntityType(), id, err)
		}

		return IndexEntry{Key: key, IndexKey: EncodedIndexKey(key), EntityID: id, Value: value}, true, nil
	}

	return IndexEntry{}, false, e.it.Err()
}

// Close releases the underlying scan.
func (e *EntityIterator) Close() error {
	return e.it.Close()
}

func hasIndex(kind serde.Kind, index string) bool {
	for _, name := range kind.IndexNames() {
		if name == index {
			return true
		}
	}
	return false
}
