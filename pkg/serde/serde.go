// Package serde converts typed entity values to and from their stored form.
package serde

import (
	"encoding/json"
	"fmt"
)

// Serde serializes values of T into bytes that can be persisted and back.
type Serde[T any] interface {
	Serialize(value T) ([]byte, error)
	Deserialize(data []byte) (T, error)
}

// jsonSerde stores values as JSON objects and arrays. Struct fields follow
// their json tags, big integers use BigInt and tagged unions use Union.
type jsonSerde[T any] struct{}

// JSON returns the default Serde for T.
func JSON[T any]() Serde[T] {
	return jsonSerde[T]{}
}

func (jsonSerde[T]) Serialize(value T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %T: %w", value, err)
	}

	return data, nil
}

func (jsonSerde[T]) Deserialize(data []byte) (T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to deserialize %T: %w", value, err)
	}

	return value, nil
}

// Clone returns a deep copy of value by round-tripping it through s. Values
// staged in memory are always cloned before they are handed to a caller so
// that mutations never leak back into the staging area.
func Clone[T any](s Serde[T], value T) (T, error) {
	data, err := s.Serialize(value)
	if err != nil {
		var zero T
		return zero, err
	}

	return s.Deserialize(data)
}
