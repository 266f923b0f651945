package codegen

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestParseEventSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sig     string
		want    *EventSignature
		wantErr string
	}{
		{
			name: "types only",
			sig:  "Transfer(address,address,uint256)",
			want: &EventSignature{Name: "Transfer", Params: []EventParam{
				{Name: "param0", Type: "address"},
				{Name: "param1", Type: "address"},
				{Name: "param2", Type: "uint256"},
			}},
		},
		{
			name: "named and indexed",
			sig:  "  Transfer(address indexed from, address indexed to, uint256 value) ",
			want: &EventSignature{Name: "Transfer", Params: []EventParam{
				{Name: "from", Type: "address", Indexed: true},
				{Name: "to", Type: "address", Indexed: true},
				{Name: "value", Type: "uint256"},
			}},
		},
		{
			name: "indexed without name",
			sig:  "Ping(uint64 indexed, bytes32[] hashes)",
			want: &EventSignature{Name: "Ping", Params: []EventParam{
				{Name: "param0", Type: "uint64", Indexed: true},
				{Name: "hashes", Type: "bytes32[]"},
			}},
		},
		{
			name: "no parameters",
			sig:  "Paused()",
			want: &EventSignature{Name: "Paused", Params: []EventParam{}},
		},
		{name: "empty", sig: "", wantErr: "empty signature"},
		{name: "no parenthesis", sig: "Transfer", wantErr: "missing opening parenthesis"},
		{name: "unclosed", sig: "Transfer(address", wantErr: "missing closing parenthesis"},
		{name: "reversed", sig: "Transfer)address(", wantErr: "malformed parentheses"},
		{name: "lowercase name", sig: "transfer(address)", wantErr: "must start with an uppercase letter"},
		{name: "unknown type", sig: "Transfer(address256 a)", wantErr: "invalid Solidity type"},
		{name: "tuple", sig: "Batch((address,uint256) item)", wantErr: "invalid Solidity type"},
		{name: "misplaced keyword", sig: "Transfer(address from indexed)", wantErr: "expected 'indexed' keyword"},
		{name: "bad parameter name", sig: "Transfer(address 1from)", wantErr: "invalid parameter name"},
		{name: "duplicate names", sig: "Transfer(address a, address a)", wantErr: "duplicate parameter name"},
		{
			name:    "too many topics",
			sig:     "Wide(uint8 indexed a, uint8 indexed b, uint8 indexed c, uint8 indexed d)",
			wantErr: "at most 3 parameters can be indexed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseEventSignature(tt.sig)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidSignature)
				require.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want.Name, got.Name)
			require.Equal(t, tt.want.Params, got.Params)
			require.Equal(t, strings.TrimSpace(tt.sig), got.Raw)
		})
	}
}

func TestEventSignature_Helpers(t *testing.T) {
	t.Parallel()

	event, err := ParseEventSignature("Transfer(address indexed from, address indexed to, uint256 indexed tokenId)")
	require.NoError(t, err)

	require.Equal(t, "Transfer(address,address,uint256)", event.CanonicalSignature())
	require.Len(t, event.IndexedParams(), 3)
	require.Equal(t, "TokenId", event.Params[2].FieldName())
}

func TestIsValidSolidityType(t *testing.T) {
	t.Parallel()

	valid := []string{"address", "bool", "string", "bytes", "bytes1", "bytes32", "uint", "uint8", "uint256",
		"int", "int24", "int256", "address[]", "uint256[10]", "bytes32[][]"}
	invalid := []string{"", "bytes0", "bytes33", "uint7", "uint512", "int257", "mapping", "tuple", "[]"}

	for _, typ := range valid {
		require.True(t, isValidSolidityType(typ), typ)
	}
	for _, typ := range invalid {
		require.False(t, isValidSolidityType(typ), typ)
	}
}

func TestABIJSON(t *testing.T) {
	t.Parallel()

	transfer, err := ParseEventSignature("Transfer(address indexed from, address indexed to, uint256 value)")
	require.NoError(t, err)
	paused, err := ParseEventSignature("Paused()")
	require.NoError(t, err)

	out, err := ABIJSON([]*EventSignature{transfer, paused})
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Events, 2)

	event := parsed.Events["Transfer"]
	require.Equal(t, crypto.Keccak256Hash([]byte(transfer.CanonicalSignature())), event.ID)
	require.True(t, event.Inputs[0].Indexed)
	require.False(t, event.Inputs[2].Indexed)
}
