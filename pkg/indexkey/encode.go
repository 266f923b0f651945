// Package indexkey builds secondary-index keys whose plain byte order matches
// the order of the values they were derived from.
package indexkey

import (
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

const (
	// positiveMarker prefixes every non-zero magnitude. It sorts after all digits.
	positiveMarker = '='
	// negativeMarker replaces positiveMarker for negative values. It sorts before all digits.
	negativeMarker = '-'

	// Separator joins the segments of a compound key. It never appears in an
	// encoded integer or a normalized string.
	Separator = "#"

	// Terminator ends an encoded string. It sorts before every letter and
	// digit, so a string sorts before the strings it is a prefix of.
	Terminator = "!"
)

// EncodeInt encodes n so that for any a < b, EncodeInt(a) < EncodeInt(b).
//
// Non-negative values are written as a length-prefixed decimal: 0 is "0",
// 5 is "=5", 10 is "==210" (marker, recursive encoding of the digit count 2,
// then the digits). Negative values use the encoding of the magnitude with
// every digit complemented and every marker swapped to '-', so -5 is "-4"
// and -10 is "--789".
func EncodeInt(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "0"
	}

	if n.Sign() > 0 {
		return encodeMagnitude(n.String())
	}

	encoded := encodeMagnitude(new(big.Int).Abs(n).String())

	var b strings.Builder
	b.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		switch {
		case c == positiveMarker:
			b.WriteByte(negativeMarker)
		case c >= '0' && c <= '9':
			b.WriteByte('9' - c + '0')
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// EncodeInt64 is EncodeInt for an int64.
func EncodeInt64(n int64) string {
	return EncodeInt(big.NewInt(n))
}

// EncodeUint64 is EncodeInt for a uint64.
func EncodeUint64(n uint64) string {
	return EncodeInt(new(big.Int).SetUint64(n))
}

func encodeMagnitude(digits string) string {
	if digits == "0" {
		return "0"
	}

	var lengthPrefix string
	if len(digits) > 1 {
		lengthPrefix = encodeMagnitude(strconv.Itoa(len(digits)))
	}

	return string(positiveMarker) + lengthPrefix + digits
}

// NormalizeString lower-cases s and drops everything that is not a letter or
// a digit, so that "Vitalik Buterin" and "vitalik-buterin" share a key.
func NormalizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// EncodeString normalizes s and terminates it. Use it whenever a free-form
// string ends an index key; the entity id that follows in the stored entry
// would otherwise decide the order of "ab" and "abc".
func EncodeString(s string) string {
	return NormalizeString(s) + Terminator
}

// Join concatenates encoded segments into a compound key.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}
