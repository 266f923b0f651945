// Package reader defines the read side of the entity store as seen by query
// layers.
package reader

import (
	"context"
	"errors"

	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
)

// ErrIteratorClosed is returned by Next after Close.
var ErrIteratorClosed = errors.New("iterator closed")

// IndexQuery selects entries of one secondary index. With ExactKey set only
// entries whose encoded index key equals it are returned. Otherwise entries
// are returned from StartingKey onwards.
type IndexQuery struct {
	ExactKey    *string
	StartingKey string
}

// Exact returns a query matching a single encoded index key.
func Exact(key string) IndexQuery {
	return IndexQuery{ExactKey: &key}
}

// From returns a range query starting at startingKey (inclusive).
func From(startingKey string) IndexQuery {
	return IndexQuery{StartingKey: startingKey}
}

// IndexedValue is one result of an index query.
type IndexedValue struct {
	EntityID string
	IndexKey string
	Value    any
}

// StartingKey returns the key that restarts a range query at v.
func (v IndexedValue) StartingKey() string {
	return v.IndexKey + "|" + v.EntityID
}

// Iterator yields index query results in ascending key order.
type Iterator interface {
	// Next returns the next value, or false once the query is exhausted.
	Next(ctx context.Context) (IndexedValue, bool, error)
	Close() error
}

// Reader resolves entities against the finalized store overlaid with the
// writes of unfinalized blocks on the canonical path.
type Reader interface {
	GetEntity(ctx context.Context, entityType, id string) (any, bool, error)
	GetEntitiesByIndex(ctx context.Context, entityType, index string, query IndexQuery) (Iterator, error)
	LatestBlock() lineage.BlockIdentifier
}

// Collect drains it into a slice, reading at most limit values when limit is
// positive. The iterator is closed on return.
func Collect(ctx context.Context, it Iterator, limit int) ([]IndexedValue, error) {
	defer it.Close()

	var out []IndexedValue
	for limit <= 0 || len(out) < limit {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, v)
	}

	return out, nil
}
