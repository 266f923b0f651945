package indexkey

import (
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{name: "zero", input: 0, expected: "0"},
		{name: "single digit", input: 5, expected: "=5"},
		{name: "nine", input: 9, expected: "=9"},
		{name: "two digits", input: 10, expected: "==210"},
		{name: "three digits", input: 123, expected: "==3123"},
		{name: "ten digits", input: 1234567890, expected: "===2101234567890"},
		{name: "negative single digit", input: -5, expected: "-4"},
		{name: "negative nine", input: -9, expected: "-0"},
		{name: "negative two digits", input: -10, expected: "--789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, EncodeInt64(tt.input))
		})
	}
}

func TestEncodeInt_Nil(t *testing.T) {
	require.Equal(t, "0", EncodeInt(nil))
}

func TestEncodeInt_DigitBoundaries(t *testing.T) {
	t.Parallel()

	values := []int64{-1000, -999, -101, -100, -99, -11, -10, -9, -1, 0, 1, 9, 10, 11, 99, 100, 101, 999, 1000}
	for i := 1; i < len(values); i++ {
		a, b := EncodeInt64(values[i-1]), EncodeInt64(values[i])
		require.Less(t, a, b, "%d (%s) should sort before %d (%s)", values[i-1], a, values[i], b)
	}
}

func TestEncodeInt_BigValues(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	smaller := new(big.Int).Sub(huge, big.NewInt(1))
	require.Less(t, EncodeInt(smaller), EncodeInt(huge))
	require.Less(t, EncodeInt(new(big.Int).Neg(huge)), EncodeInt(new(big.Int).Neg(smaller)))
	require.Equal(t, EncodeInt(huge), EncodeInt(new(big.Int).Set(huge)))
}

func TestEncodeInt_OrderPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64().Draw(t, "a")
		b := rapid.Int64().Draw(t, "b")

		ea, eb := EncodeInt64(a), EncodeInt64(b)
		switch {
		case a < b:
			if ea >= eb {
				t.Fatalf("%d < %d but %q >= %q", a, b, ea, eb)
			}
		case a > b:
			if ea <= eb {
				t.Fatalf("%d > %d but %q <= %q", a, b, ea, eb)
			}
		default:
			if ea != eb {
				t.Fatalf("%d == %d but %q != %q", a, b, ea, eb)
			}
		}
	})
}

func TestEncodeUint64_SortsLikeNumbers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Uint64(), 2, 50).Draw(t, "values")

		encoded := make([]string, len(values))
		for i, v := range values {
			encoded[i] = EncodeUint64(v)
		}

		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		sort.Strings(encoded)

		for i, v := range values {
			if encoded[i] != EncodeUint64(v) {
				t.Fatalf("position %d: got %q, want encoding of %d", i, encoded[i], v)
			}
		}
	})
}

func TestNormalizeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{input: "Vitalik Buterin", expected: "vitalikbuterin"},
		{input: "vitalik-buterin", expected: "vitalikbuterin"},
		{input: "  ENS.eth ", expected: "enseth"},
		{input: "Ünïcode 42", expected: "ünïcode42"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeString(tt.input))
		})
	}
}

func TestEncodeString_PrefixSortsFirst(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc!", EncodeString(" A-b C"))

	// the stored entry appends "|<id>" to the key
	entry := func(s, id string) string { return EncodeString(s) + "|" + id }
	require.Less(t, entry("ab", "z"), entry("abc", "a"))
	require.Less(t, entry("", "z"), entry("a", "a"))
	require.Less(t, entry("ab", "z"), entry("ab0", "a"))

	rapid.Check(t, func(t *rapid.T) {
		alnum := rapid.StringMatching(`[a-z0-9]{0,6}`)
		a, b := alnum.Draw(t, "a"), alnum.Draw(t, "b")
		if a == b {
			return
		}

		if (a < b) != (entry(a, "zz") < entry(b, "00")) {
			t.Fatalf("order of %q and %q not preserved", a, b)
		}
	})
}

func TestJoin(t *testing.T) {
	t.Parallel()

	// A descending primary sort on votes, ascending tie break on name.
	key := func(votes int64, name string) string {
		return Join(EncodeInt64(-votes), NormalizeString(name))
	}

	require.Less(t, key(100, "b"), key(10, "a"))
	require.Less(t, key(10, "a"), key(10, "b"))
	require.Less(t, key(10, "ab"), key(10, "abc"))
	require.Equal(t, "-4#abc", key(5, "ABC"))
}
