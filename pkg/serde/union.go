package serde

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnknownVariant is returned when a stored discriminant has no registered variant.
var ErrUnknownVariant = errors.New("unknown union variant")

// Variant is one arm of a discriminated union. UnionKey is the discriminant
// persisted next to the payload.
type Variant interface {
	UnionKey() string
}

// Variants maps every discriminant of a union to a constructor returning a
// pointer to an empty variant.
type Variants[V Variant] map[string]func() V

// Keys returns the registered discriminants in sorted order.
func (v Variants[V]) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

var variantsRegistry sync.Map

// RegisterVariants makes the variants of V known to Union[V]. It is usually
// called from an init function next to the variant declarations.
func RegisterVariants[V Variant](variants Variants[V]) {
	variantsRegistry.Store(reflect.TypeFor[V](), variants)
}

func lookupVariants[V Variant]() (Variants[V], error) {
	stored, ok := variantsRegistry.Load(reflect.TypeFor[V]())
	if !ok {
		return nil, fmt.Errorf("no variants registered for %v", reflect.TypeFor[V]())
	}

	return stored.(Variants[V]), nil
}

type taggedPayload struct {
	Key  string          `json:"key"`
	Kind json.RawMessage `json:"kind"`
}

func encodeVariant(value Variant) ([]byte, error) {
	if value == nil {
		return nil, errors.New("cannot serialize an empty union")
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, errors.New("cannot serialize an empty union")
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return json.Marshal(taggedPayload{Key: value.UnionKey(), Kind: payload})
}

func decodeVariant[V Variant](variants Variants[V], data []byte) (V, error) {
	var zero V

	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return zero, err
	}

	ctor, ok := variants[tagged.Key]
	if !ok {
		return zero, fmt.Errorf("%w %q (known: %v)", ErrUnknownVariant, tagged.Key, variants.Keys())
	}

	value := ctor()
	if err := json.Unmarshal(tagged.Kind, value); err != nil {
		return zero, fmt.Errorf("failed to decode variant %q: %w", tagged.Key, err)
	}

	return value, nil
}

// Union is an entity field that holds exactly one variant of V. It is
// stored as {"key": <discriminant>, "kind": <payload>}.
type Union[V Variant] struct {
	Value V
}

// MarshalJSON implements json.Marshaler.
func (u Union[V]) MarshalJSON() ([]byte, error) {
	return encodeVariant(u.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Union[V]) UnmarshalJSON(data []byte) error {
	variants, err := lookupVariants[V]()
	if err != nil {
		return err
	}

	value, err := decodeVariant(variants, data)
	if err != nil {
		return err
	}

	u.Value = value
	return nil
}

// unionSerde is a Serde for entities whose whole value is a union.
type unionSerde[V Variant] struct {
	variants Variants[V]
}

// NewUnion returns a Serde that persists a V with its discriminant.
func NewUnion[V Variant](variants Variants[V]) Serde[V] {
	return unionSerde[V]{variants: variants}
}

func (s unionSerde[V]) Serialize(value V) ([]byte, error) {
	if _, ok := s.variants[value.UnionKey()]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, value.UnionKey())
	}

	return encodeVariant(value)
}

func (s unionSerde[V]) Deserialize(data []byte) (V, error) {
	return decodeVariant(s.variants, data)
}
