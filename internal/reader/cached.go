package reader

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedEntity struct {
	value any
	found bool
}

// Cached memoizes point reads of another reader. It is meant to live for
// one request, during which the underlying reader's view does not move.
// Index queries are passed through.
type Cached struct {
	reader.Reader

	kinds *serde.Kinds
	cache *lru.Cache[string, cachedEntity]
}

// NewCached wraps r with a cache of up to size entities.
func NewCached(r reader.Reader, kinds *serde.Kinds, size int) (*Cached, error) {
	cache, err := lru.New[string, cachedEntity](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity cache: %w", err)
	}

	return &Cached{Reader: r, kinds: kinds, cache: cache}, nil
}

// GetEntity implements reader.Reader. Every call returns its own copy.
func (c *Cached) GetEntity(ctx context.Context, entityType, id string) (any, bool, error) {
	key := staging.EntityKey(entityType, id)

	entry, ok := c.cache.Get(key)
	if !ok {
		value, found, err := c.Reader.GetEntity(ctx, entityType, id)
		if err != nil {
			return nil, false, err
		}

		entry = cachedEntity{value: value, found: found}
		c.cache.Add(key, entry)
	}

	if !entry.found {
		return nil, false, nil
	}

	kind, err := c.kinds.Get(entityType)
	if err != nil {
		return nil, false, err
	}

	value, err := kind.Clone(entry.value)
	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}
