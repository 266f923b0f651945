// Package reader serves entity queries over the persisted store overlaid
// with the writes of unfinalized blocks.
package reader

import (
	"container/heap"
	"context"
	"fmt"
	"strings"

	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/internal/store"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

// Reader resolves queries as of one block. Staged writes on the path from
// that block to the finalized frontier shadow persisted values.
type Reader struct {
	store *store.EntityStore
	area  *staging.StorageArea
	kinds *serde.Kinds
	head  *lineage.BlockIdentifier
}

var _ reader.Reader = (*Reader)(nil)

// New returns a reader bound to the current tip of area.
func New(s *store.EntityStore, area *staging.StorageArea) *Reader {
	return &Reader{store: s, area: area, kinds: s.Kinds(), head: area.Tip()}
}

// NewAt returns a reader bound to block.
func NewAt(s *store.EntityStore, area *staging.StorageArea, block lineage.BlockIdentifier) *Reader {
	return &Reader{store: s, area: area, kinds: s.Kinds(), head: &block}
}

// LatestBlock returns the block the reader is bound to, or the finalized
// block when nothing past it has been processed.
func (r *Reader) LatestBlock() lineage.BlockIdentifier {
	if r.head != nil {
		return *r.head
	}
	return r.area.Finalized()
}

// GetEntity returns the latest version of an entity visible from the bound
// block.
func (r *Reader) GetEntity(ctx context.Context, entityType, id string) (any, bool, error) {
	kind, err := r.kinds.Get(entityType)
	if err != nil {
		return nil, false, err
	}

	if r.head != nil {
		staged, ok, err := r.area.Lookup(*r.head, staging.EntityKey(entityType, id))
		if err != nil {
			return nil, false, fmt.Errorf("failed to walk lineage of block %s: %w", r.head, err)
		}
		if ok {
			value, err := kind.Clone(staged.Value)
			if err != nil {
				return nil, false, err
			}
			return value, true, nil
		}
	}

	data, err := r.store.GetEntity(ctx, entityType, id)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}

	value, err := kind.Deserialize(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to deserialize %s/%s: %w", entityType, id, err)
	}

	return value, true, nil
}

// GetEntitiesByIndex returns the entities matching query in ascending
// index-key order, each exactly once.
func (r *Reader) GetEntitiesByIndex(ctx context.Context, entityType, index string, query reader.IndexQuery) (reader.Iterator, error) {
	kind, err := r.kinds.Get(entityType)
	if err != nil {
		return nil, err
	}

	prefix, start := store.ResolveIndexQuery(entityType, index, query)

	view, err := r.area.View(r.head)
	if err != nil {
		return nil, fmt.Errorf("failed to walk lineage of block %s: %w", r.head, err)
	}

	it := &mergeIterator{prefix: prefix}
	visited := make(map[string]struct{})

	var stageErr error
	view.Each(entityType, func(e staging.EntityWithMetadata) {
		if stageErr != nil {
			return
		}

		// staged ids shadow persisted ones even when their new key is out of range
		visited[e.ID] = struct{}{}

		encoded, err := kind.IndexKey(index, e.Value)
		if err != nil {
			stageErr = err
			return
		}

		key := store.IndexEntryKey(entityType, index, encoded, e.ID)
		if key < start || !strings.HasPrefix(key, prefix) {
			return
		}

		value, err := kind.Clone(e.Value)
		if err != nil {
			stageErr = err
			return
		}

		it.heap = append(it.heap, &heapItem{
			key:   key,
			value: reader.IndexedValue{EntityID: e.ID, IndexKey: encoded, Value: value},
		})
	})
	if stageErr != nil {
		return nil, stageErr
	}
	heap.Init(&it.heap)

	persisted, err := r.store.GetEntities(ctx, entityType, index, query, visited)
	if err != nil {
		return nil, err
	}
	it.persisted = persisted

	return it, nil
}

type heapItem struct {
	key       string
	value     reader.IndexedValue
	persisted bool
}

type itemHeap []*heapItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].key < h[j].key }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// mergeIterator keeps at most one pending persisted entry in the heap next
// to every staged entry, so the persisted scan stays lazy.
type mergeIterator struct {
	prefix    string
	heap      itemHeap
	persisted *store.EntityIterator

	primed bool
	done   bool
	closed bool
}

func (m *mergeIterator) pullPersisted(ctx context.Context) error {
	entry, ok, err := m.persisted.Next(ctx)
	if err != nil {
		return err
	}
	if ok {
		heap.Push(&m.heap, &heapItem{
			key:       entry.Key,
			value:     reader.IndexedValue{EntityID: entry.EntityID, IndexKey: entry.IndexKey, Value: entry.Value},
			persisted: true,
		})
	}
	return nil
}

// Next implements reader.Iterator.
func (m *mergeIterator) Next(ctx context.Context) (reader.IndexedValue, bool, error) {
	if m.closed {
		return reader.IndexedValue{}, false, reader.ErrIteratorClosed
	}
	if m.done {
		return reader.IndexedValue{}, false, nil
	}

	if !m.primed {
		m.primed = true
		if err := m.pullPersisted(ctx); err != nil {
			return reader.IndexedValue{}, false, err
		}
	}

	if m.heap.Len() == 0 {
		m.done = true
		return reader.IndexedValue{}, false, nil
	}

	item := heap.Pop(&m.heap).(*heapItem)
	if !strings.HasPrefix(item.key, m.prefix) {
		m.done = true
		return reader.IndexedValue{}, false, nil
	}

	if item.persisted {
		if err := m.pullPersisted(ctx); err != nil {
			return reader.IndexedValue{}, false, err
		}
	}

	return item.value, true, nil
}

// Close implements reader.Iterator.
func (m *mergeIterator) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.persisted.Close()
}
