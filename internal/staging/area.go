// Package staging holds entity writes of unfinalized blocks, one bucket per
// block hash, together with the lineage connecting them to the finalized
// frontier.
package staging

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
)

// EntityPrefix starts every persisted entity key.
const EntityPrefix = "entity|"

// EntityKey returns the key of an entity, shared by staging buckets and the
// persisted store.
func EntityKey(entityType, id string) string {
	return EntityPrefix + entityType + "|" + id
}

// EntityWithMetadata is one entity write.
type EntityWithMetadata struct {
	EntityType string
	ID         string
	Value      any
}

// Key returns the entity key of e.
func (e EntityWithMetadata) Key() string {
	return EntityKey(e.EntityType, e.ID)
}

// BlockStorageArea holds every entity write attributed to one block. A later
// write of the same key within the block replaces the earlier one.
type BlockStorageArea struct {
	Entities map[string]EntityWithMetadata
}

func newBlockStorageArea() *BlockStorageArea {
	return &BlockStorageArea{Entities: make(map[string]EntityWithMetadata)}
}

// Changed returns the writes of the block ordered by entity key.
func (b *BlockStorageArea) Changed() []EntityWithMetadata {
	out := make([]EntityWithMetadata, 0, len(b.Entities))
	for _, e := range b.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}

// StorageArea is the follower's in-memory working set. Only the follower
// mutates it; readers take a consistent view through View.
type StorageArea struct {
	mu sync.RWMutex

	tip       *lineage.BlockIdentifier
	finalized lineage.BlockIdentifier
	parents   lineage.Parents
	blocks    map[common.Hash]*BlockStorageArea
}

// NewStorageArea returns an empty working set rooted at finalized.
func NewStorageArea(finalized lineage.BlockIdentifier) *StorageArea {
	return &StorageArea{
		finalized: finalized,
		parents:   make(lineage.Parents),
		blocks:    make(map[common.Hash]*BlockStorageArea),
	}
}

// Finalized returns the highest persisted block.
func (a *StorageArea) Finalized() lineage.BlockIdentifier {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.finalized
}

// SetFinalized moves the finalized frontier to block.
func (a *StorageArea) SetFinalized(block lineage.BlockIdentifier) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.finalized = block
}

// Tip returns the highest processed block, or nil before the first block.
func (a *StorageArea) Tip() *lineage.BlockIdentifier {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.tip == nil {
		return nil
	}
	tip := *a.tip
	return &tip
}

// AdvanceTip makes block the tip unless a higher block is already the tip.
// A block at the tip's height replaces it, which is how a reorg of the tip
// itself becomes visible.
func (a *StorageArea) AdvanceTip(block lineage.BlockIdentifier) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tip != nil && block.Number < a.tip.Number {
		return false
	}
	a.tip = &block
	return true
}

// HasParent reports whether the lineage knows the parent of hash.
func (a *StorageArea) HasParent(hash common.Hash) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.parents[hash]
	return ok
}

// IsKnown reports whether block is the finalized frontier or has a recorded
// parent.
func (a *StorageArea) IsKnown(hash common.Hash) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.finalized.Hash == hash {
		return true
	}
	_, ok := a.parents[hash]
	return ok
}

// AddParent records the parent of block.
func (a *StorageArea) AddParent(block, parent lineage.BlockIdentifier) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.parents[block.Hash] = parent
}

// PathTo returns the blocks between block (inclusive) and the finalized
// frontier (exclusive), closest to block first.
func (a *StorageArea) PathTo(block lineage.BlockIdentifier) ([]lineage.BlockIdentifier, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return lineage.PathBetween(block, a.finalized, a.parents)
}

// Save writes entity into the bucket of block.
func (a *StorageArea) Save(block common.Hash, entity EntityWithMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()

	area, ok := a.blocks[block]
	if !ok {
		area = newBlockStorageArea()
		a.blocks[block] = area
	}
	area.Entities[entity.Key()] = entity
}

// Changed returns the writes staged for block ordered by entity key.
func (a *StorageArea) Changed(block common.Hash) []EntityWithMetadata {
	a.mu.RLock()
	defer a.mu.RUnlock()

	area, ok := a.blocks[block]
	if !ok {
		return nil
	}
	return area.Changed()
}

// Prune drops the lineage and staged writes of hash.
func (a *StorageArea) Prune(hash common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.parents, hash)
	delete(a.blocks, hash)
}

// PruneBelow drops every lineage and staging entry at or below number that
// is not the finalized frontier. These belong to branches that can no longer
// become canonical.
func (a *StorageArea) PruneBelow(number uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	pruned := 0
	for hash, parent := range a.parents {
		if parent.Number+1 <= number {
			delete(a.parents, hash)
			delete(a.blocks, hash)
			pruned++
		}
	}
	return pruned
}

// Size returns the number of blocks with a recorded parent.
func (a *StorageArea) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.parents)
}

// Lookup returns the write of key closest to head on the path from head to
// the finalized frontier.
func (a *StorageArea) Lookup(head lineage.BlockIdentifier, key string) (EntityWithMetadata, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	path, err := lineage.PathBetween(head, a.finalized, a.parents)
	if err != nil {
		return EntityWithMetadata{}, false, err
	}

	for _, block := range path {
		if area, ok := a.blocks[block.Hash]; ok {
			if e, ok := area.Entities[key]; ok {
				return e, true, nil
			}
		}
	}

	return EntityWithMetadata{}, false, nil
}

// View is a read-only snapshot of the staged writes along one path.
type View struct {
	// Path lists the blocks from the view's head down to, but excluding, the
	// finalized frontier.
	Path      []lineage.BlockIdentifier
	Finalized lineage.BlockIdentifier
	buckets   []map[string]EntityWithMetadata
}

// View captures the staged writes on the path from head to the finalized
// frontier. A nil head yields an empty view.
func (a *StorageArea) View(head *lineage.BlockIdentifier) (*View, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v := &View{Finalized: a.finalized}
	if head == nil {
		return v, nil
	}

	path, err := lineage.PathBetween(*head, a.finalized, a.parents)
	if err != nil {
		return nil, err
	}
	v.Path = path

	for _, block := range path {
		area, ok := a.blocks[block.Hash]
		if !ok {
			continue
		}

		bucket := make(map[string]EntityWithMetadata, len(area.Entities))
		for k, e := range area.Entities {
			bucket[k] = e
		}
		v.buckets = append(v.buckets, bucket)
	}

	return v, nil
}

// Lookup returns the write of key closest to the view's head.
func (v *View) Lookup(key string) (EntityWithMetadata, bool) {
	for _, bucket := range v.buckets {
		if e, ok := bucket[key]; ok {
			return e, true
		}
	}
	return EntityWithMetadata{}, false
}

// Each calls fn for every staged write of entityType, closest to the head
// first. Older writes of an id already visited are skipped.
func (v *View) Each(entityType string, fn func(EntityWithMetadata)) {
	seen := make(map[string]struct{})
	for _, bucket := range v.buckets {
		for _, e := range bucket {
			if e.EntityType != entityType {
				continue
			}
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			fn(e)
		}
	}
}
