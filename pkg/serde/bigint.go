package serde

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt is an arbitrary precision integer stored as a decimal string.
// A nil BigInt is treated as zero.
type BigInt struct {
	*big.Int
}

// NewBigInt returns a BigInt holding v.
func NewBigInt(v int64) BigInt {
	return BigInt{Int: big.NewInt(v)}
}

// BigIntFrom wraps a copy of v.
func BigIntFrom(v *big.Int) BigInt {
	if v == nil {
		return NewBigInt(0)
	}

	return BigInt{Int: new(big.Int).Set(v)}
}

// Big returns the underlying value, never nil.
func (b BigInt) Big() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}

	return b.Int
}

// String implements fmt.Stringer.
func (b BigInt) String() string {
	return b.Big().String()
}

// MarshalJSON implements json.Marshaler.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Big().String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("big integer must be a decimal string: %w", err)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid decimal big integer %q", s)
	}

	b.Int = v
	return nil
}
