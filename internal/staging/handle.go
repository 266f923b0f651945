package staging

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexer"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

var _ indexer.StorageHandle = (*Handle)(nil)

// PersistedEntities is the read side of the persisted store used as the
// fallback below the finalized frontier.
type PersistedEntities interface {
	GetEntity(ctx context.Context, entityType, id string) ([]byte, error)
}

// Handle is the storage surface handed to event handlers while one block is
// processed. Writes land in that block's bucket. Reads see the writes of the
// block and its ancestors, then the persisted store.
type Handle struct {
	area      *StorageArea
	block     lineage.BlockIdentifier
	persisted PersistedEntities
	kinds     *serde.Kinds

	loaded []EntityWithMetadata
}

// NewHandle binds a handle to block. The parent of block must already be
// recorded in area.
func NewHandle(area *StorageArea, block lineage.BlockIdentifier, persisted PersistedEntities, kinds *serde.Kinds) *Handle {
	return &Handle{area: area, block: block, persisted: persisted, kinds: kinds}
}

// Block returns the block the handle writes to.
func (h *Handle) Block() lineage.BlockIdentifier {
	return h.block
}

// SaveEntity stages value as the new version of the entity in the bound
// block. value must be of the entity type's Go type.
func (h *Handle) SaveEntity(entityType, id string, value any) error {
	kind, err := h.kinds.Get(entityType)
	if err != nil {
		return err
	}

	stored, err := kind.Clone(value)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", EntityKey(entityType, id), err)
	}

	h.area.Save(h.block.Hash, EntityWithMetadata{EntityType: entityType, ID: id, Value: stored})
	return nil
}

// LoadEntity returns the version of the entity visible from the bound block.
// The returned value is a copy the caller may mutate freely.
func (h *Handle) LoadEntity(ctx context.Context, entityType, id string) (any, bool, error) {
	kind, err := h.kinds.Get(entityType)
	if err != nil {
		return nil, false, err
	}

	value, found, err := h.load(ctx, kind, id)
	if err != nil {
		return nil, false, err
	}

	h.loaded = append(h.loaded, EntityWithMetadata{EntityType: entityType, ID: id, Value: value})
	return value, found, nil
}

func (h *Handle) load(ctx context.Context, kind serde.Kind, id string) (any, bool, error) {
	key := EntityKey(kind.EntityType(), id)

	staged, ok, err := h.area.Lookup(h.block, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to walk lineage of block %s: %w", h.block, err)
	}

	if ok {
		value, err := kind.Clone(staged.Value)
		if err != nil {
			return nil, false, fmt.Errorf("failed to clone %s: %w", key, err)
		}
		return value, true, nil
	}

	data, err := h.persisted.GetEntity(ctx, kind.EntityType(), id)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}

	value, err := kind.Deserialize(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to deserialize %s: %w", key, err)
	}

	return value, true, nil
}

// LoadedEntities returns every entity read through the handle, in read order.
// Absent entities appear with a nil Value.
func (h *Handle) LoadedEntities() []EntityWithMetadata {
	return h.loaded
}
