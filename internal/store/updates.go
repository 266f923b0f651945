package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

// OperationType is the kind of a persisted mutation.
type OperationType uint8

const (
	OpPut OperationType = iota + 1
	OpDelete
)

// String implements fmt.Stringer.
func (t OperationType) String() string {
	switch t {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OperationType(%d)", uint8(t))
	}
}

// Operation is one persisted mutation. Value is unused for deletes.
type Operation struct {
	Type  OperationType
	Key   string
	Value []byte
}

// VersionedOperation pairs an operation with the value that undoes it. A nil
// Previous means the key did not exist before the operation.
type VersionedOperation struct {
	Operation
	Previous []byte
}

// EntityChange is the old and new version of one entity being finalized.
// Old is the persisted bytes, nil when the entity is new.
type EntityChange struct {
	EntityType string
	ID         string
	New        any
	Old        []byte
}

// UpdatesForEntities derives every operation that moves the persisted store
// from previous to block. Index entries of the old value are deleted before
// the entries of the new value are written, and the finalized block pointer
// is always the last operation.
func UpdatesForEntities(
	block lineage.BlockIdentifier,
	previous *lineage.BlockIdentifier,
	changes []EntityChange,
	kinds *serde.Kinds,
) ([]VersionedOperation, error) {
	var ops []VersionedOperation

	for _, change := range changes {
		kind, err := kinds.Get(change.EntityType)
		if err != nil {
			return nil, err
		}

		key := entityKey(change.EntityType, change.ID)

		data, err := kind.Serialize(change.New)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s: %w", key, err)
		}

		ops = append(ops, VersionedOperation{
			Operation: Operation{Type: OpPut, Key: key, Value: data},
			Previous:  change.Old,
		})

		var old any
		if change.Old != nil {
			if old, err = kind.Deserialize(change.Old); err != nil {
				return nil, fmt.Errorf("failed to deserialize persisted %s: %w", key, err)
			}
		}

		for _, index := range kind.IndexNames() {
			if old != nil {
				oldKey, err := indexEntryKey(kind, index, old, change.ID)
				if err != nil {
					return nil, err
				}
				ops = append(ops, VersionedOperation{
					Operation: Operation{Type: OpDelete, Key: oldKey},
					Previous:  []byte(change.ID),
				})
			}

			newKey, err := indexEntryKey(kind, index, change.New, change.ID)
			if err != nil {
				return nil, err
			}
			ops = append(ops, VersionedOperation{
				Operation: Operation{Type: OpPut, Key: newKey, Value: []byte(change.ID)},
			})
		}
	}

	latest, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block %s: %w", block, err)
	}

	var prev []byte
	if previous != nil {
		if prev, err = json.Marshal(previous); err != nil {
			return nil, fmt.Errorf("failed to encode block %s: %w", previous, err)
		}
	}

	ops = append(ops, VersionedOperation{
		Operation: Operation{Type: OpPut, Key: latestBlockKey, Value: latest},
		Previous:  prev,
	})

	return ops, nil
}

func indexEntryKey(kind serde.Kind, index string, value any, id string) (string, error) {
	encoded, err := kind.IndexKey(index, value)
	if err != nil {
		return "", err
	}
	if strings.Contains(encoded, keySeparator) {
		return "", fmt.Errorf("index %s of %s produced key %q containing %q", index, kind.EntityType(), encoded, keySeparator)
	}

	return IndexEntryKey(kind.EntityType(), index, encoded, id), nil
}
