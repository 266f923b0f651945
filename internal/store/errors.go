package store

import (
	"errors"
	"fmt"
)

// ErrNotRecovered is returned by every operation of a store whose undo log
// has not been replayed since it was opened or since a flush failed.
var ErrNotRecovered = errors.New("entity store requires EnsureConsistentState")

// IndexCorruptionError reports an index entry pointing at an entity that does
// not exist.
type IndexCorruptionError struct {
	IndexKey string
	EntityID string
}

// Error implements error.
func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("index entry %s points at missing entity %s", e.IndexKey, e.EntityID)
}
