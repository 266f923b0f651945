package serde

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownEntity is returned when an entity type was never registered.
	ErrUnknownEntity = errors.New("unknown entity type")
	// ErrUnknownIndex is returned when an entity type has no index with the requested name.
	ErrUnknownIndex = errors.New("unknown index")
)

// IndexDefinition derives one secondary-index key from an entity value.
// Keys are built with the indexkey package so that they sort like the value.
type IndexDefinition[T any] struct {
	Name string
	Key  func(value T) string
}

// EntityDefinition describes how one entity type is stored and indexed.
type EntityDefinition[T any] struct {
	Name    string
	Serde   Serde[T]
	Indexes []IndexDefinition[T]
}

// Kind returns the type-erased view of the definition used by the storage layers.
func (d EntityDefinition[T]) Kind() Kind {
	s := d.Serde
	if s == nil {
		s = JSON[T]()
	}

	indexes := make(map[string]func(T) string, len(d.Indexes))
	names := make([]string, 0, len(d.Indexes))
	for _, idx := range d.Indexes {
		indexes[idx.Name] = idx.Key
		names = append(names, idx.Name)
	}

	return &kind[T]{name: d.Name, serde: s, indexes: indexes, indexNames: names}
}

// Kind is an entity type resolved at registration time. Values crossing this
// interface are always of the definition's T.
type Kind interface {
	EntityType() string
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte) (any, error)
	Clone(value any) (any, error)
	IndexNames() []string
	IndexKey(index string, value any) (string, error)
}

type kind[T any] struct {
	name       string
	serde      Serde[T]
	indexes    map[string]func(T) string
	indexNames []string
}

func (k *kind[T]) EntityType() string {
	return k.name
}

func (k *kind[T]) cast(value any) (T, error) {
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("entity %s: expected %T, got %T", k.name, zero, value)
	}

	return typed, nil
}

func (k *kind[T]) Serialize(value any) ([]byte, error) {
	typed, err := k.cast(value)
	if err != nil {
		return nil, err
	}

	return k.serde.Serialize(typed)
}

func (k *kind[T]) Deserialize(data []byte) (any, error) {
	return k.serde.Deserialize(data)
}

func (k *kind[T]) Clone(value any) (any, error) {
	typed, err := k.cast(value)
	if err != nil {
		return nil, err
	}

	return Clone(k.serde, typed)
}

func (k *kind[T]) IndexNames() []string {
	return k.indexNames
}

func (k *kind[T]) IndexKey(index string, value any) (string, error) {
	keyFn, ok := k.indexes[index]
	if !ok {
		return "", fmt.Errorf("%w %q on entity %s", ErrUnknownIndex, index, k.name)
	}

	typed, err := k.cast(value)
	if err != nil {
		return "", err
	}

	return keyFn(typed), nil
}

// Kinds is the set of entity types known to a running indexer process.
type Kinds struct {
	byName map[string]Kind
}

// NewKinds builds a registry from kinds, rejecting duplicate names.
func NewKinds(kinds ...Kind) (*Kinds, error) {
	k := &Kinds{byName: make(map[string]Kind, len(kinds))}
	for _, kind := range kinds {
		if err := k.Add(kind); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Add registers kind.
func (k *Kinds) Add(kind Kind) error {
	if kind.EntityType() == "" {
		return errors.New("entity type name is required")
	}
	if _, exists := k.byName[kind.EntityType()]; exists {
		return fmt.Errorf("entity type %s registered twice", kind.EntityType())
	}

	k.byName[kind.EntityType()] = kind
	return nil
}

// Get returns the kind registered under name.
func (k *Kinds) Get(name string) (Kind, error) {
	kind, ok := k.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	return kind, nil
}

// Names returns all registered entity type names in sorted order.
func (k *Kinds) Names() []string {
	names := make([]string, 0, len(k.byName))
	for name := range k.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
