package indexer

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"spender","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	tokenAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type balance struct {
	Amount serde.BigInt `json:"amount"`
}

var balanceKind = serde.EntityDefinition[balance]{Name: "Balance"}.Kind()

func parseABI(t require.TestingT) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	return parsed
}

func testDefinition(handlers map[string]Handler) *Definition {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		panic(err)
	}
	if handlers == nil {
		handlers = map[string]Handler{"Transfer": noopHandler}
	}

	return &Definition{
		Name:     "token",
		Address:  tokenAddress,
		ABI:      parsed,
		Entities: []serde.Kind{balanceKind},
		Handlers: handlers,
	}
}

func transferLog(t require.TestingT, from, to common.Address, value int64) types.Log {
	event := parseABI(t).Events["Transfer"]

	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(value))
	require.NoError(t, err)

	return types.Log{
		Address: tokenAddress,
		Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    data,
	}
}

func TestDefinition_Decode(t *testing.T) {
	t.Parallel()

	def := testDefinition(nil)

	event, decoded, err := def.Decode(transferLog(t, alice, bob, 42))
	require.NoError(t, err)
	require.Equal(t, "Transfer", event.Name)
	require.Equal(t, "Transfer", decoded.Name)

	from, err := Arg[common.Address](decoded, "from")
	require.NoError(t, err)
	require.Equal(t, alice, from)

	to, err := Arg[common.Address](decoded, "to")
	require.NoError(t, err)
	require.Equal(t, bob, to)

	value, err := Arg[*big.Int](decoded, "value")
	require.NoError(t, err)
	require.Equal(t, int64(42), value.Int64())

	_, err = Arg[string](decoded, "value")
	require.ErrorContains(t, err, "argument value of Transfer is *big.Int")

	_, err = Arg[string](decoded, "memo")
	require.ErrorContains(t, err, "has no argument memo")
}

func TestDefinition_DecodeErrors(t *testing.T) {
	t.Parallel()

	def := testDefinition(nil)

	tests := []struct {
		name     string
		log      func() types.Log
		sentinel error
		contains string
	}{
		{
			name:     "no topics",
			log:      func() types.Log { return types.Log{Address: tokenAddress} },
			sentinel: ErrUnknownEvent,
		},
		{
			name: "unknown signature",
			log: func() types.Log {
				l := transferLog(t, alice, bob, 1)
				l.Topics[0] = common.HexToHash("0xdead")
				return l
			},
			sentinel: ErrUnknownEvent,
		},
		{
			name: "truncated data",
			log: func() types.Log {
				l := transferLog(t, alice, bob, 1)
				l.Data = l.Data[:16]
				return l
			},
			contains: "failed to unpack data of Transfer",
		},
		{
			name: "missing indexed topic",
			log: func() types.Log {
				l := transferLog(t, alice, bob, 1)
				l.Topics = l.Topics[:2]
				return l
			},
			contains: "failed to parse topics of Transfer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := def.Decode(tt.log())
			require.Error(t, err)
			if tt.sentinel != nil {
				require.ErrorIs(t, err, tt.sentinel)
			}
			if tt.contains != "" {
				require.ErrorContains(t, err, tt.contains)
			}
		})
	}
}

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(d *Definition)
		expectedErr string
	}{
		{name: "valid", mutate: func(*Definition) {}},
		{name: "missing name", mutate: func(d *Definition) { d.Name = "" }, expectedErr: "indexer name is required"},
		{name: "missing address", mutate: func(d *Definition) { d.Address = common.Address{} }, expectedErr: "address is required"},
		{name: "no handlers", mutate: func(d *Definition) { d.Handlers = map[string]Handler{} }, expectedErr: "at least one handler"},
		{name: "nil handler", mutate: func(d *Definition) { d.Handlers["Approval"] = nil }, expectedErr: "handler for Approval is nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDefinition(nil)
			tt.mutate(def)

			err := def.Validate()
			if tt.expectedErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.expectedErr)
		})
	}
}

func TestTopicFilter(t *testing.T) {
	t.Parallel()

	parsed := parseABI(t)
	transfer := parsed.Events["Transfer"].ID
	approval := parsed.Events["Approval"].ID

	first := testDefinition(nil)
	second := testDefinition(map[string]Handler{"Transfer": noopHandler, "Approval": noopHandler})
	second.Address = common.HexToAddress("0xbb")

	query := TopicFilter([]*Definition{first, second})

	require.Equal(t, []common.Address{first.Address, second.Address}, query.Addresses)
	require.Len(t, query.Topics, 1)
	require.ElementsMatch(t, []common.Hash{transfer, transfer, approval}, query.Topics[0])

	require.Equal(t, ethereum.FilterQuery{}, TopicFilter(nil))
}

func TestMergeTopics(t *testing.T) {
	t.Parallel()

	a, b, c := common.HexToHash("0x1"), common.HexToHash("0x2"), common.HexToHash("0x3")

	merged := mergeTopics([][]common.Hash{{a}}, [][]common.Hash{{b}, {c}})
	require.Equal(t, [][]common.Hash{{a, b}, {c}}, merged)
}

func TestCombinedKinds(t *testing.T) {
	t.Parallel()

	first := testDefinition(nil)
	second := testDefinition(nil)
	second.Name = "other"

	kinds, err := CombinedKinds([]*Definition{first, second})
	require.NoError(t, err, "a kind shared by two definitions is registered once")
	require.Equal(t, []string{"Balance"}, kinds.Names())

	second.Entities = []serde.Kind{serde.EntityDefinition[balance]{Name: "Balance"}.Kind()}
	_, err = CombinedKinds([]*Definition{first, second})
	require.ErrorContains(t, err, "indexer other: entity type Balance is already defined")
}

func TestIndexerCoordinator_Route(t *testing.T) {
	t.Parallel()

	called := false
	def := testDefinition(map[string]Handler{
		"Transfer": func(context.Context, StorageHandle, Event, types.Log) error {
			called = true
			return nil
		},
	})
	def.StartBlock = 7

	coordinator, err := NewIndexerCoordinator(def)
	require.NoError(t, err)
	require.Equal(t, uint64(7), coordinator.StartBlock())
	require.Equal(t, []common.Address{tokenAddress}, coordinator.Filter().Addresses)

	dispatch, err := coordinator.Route(transferLog(t, alice, bob, 1))
	require.NoError(t, err)
	require.Equal(t, def, dispatch.Indexer)
	require.Equal(t, "Transfer", dispatch.Event.Name)
	require.NoError(t, dispatch.Handler(context.Background(), nil, dispatch.Event, types.Log{}))
	require.True(t, called)

	foreign := transferLog(t, alice, bob, 1)
	foreign.Address = common.HexToAddress("0xcc")
	_, err = coordinator.Route(foreign)
	require.ErrorIs(t, err, ErrNoIndexer)

	approval := transferLog(t, alice, bob, 1)
	approval.Topics[0] = parseABI(t).Events["Approval"].ID
	dispatch, err = coordinator.Route(approval)
	require.ErrorIs(t, err, ErrNoHandler)
	require.Equal(t, "Approval", dispatch.Event.Name)
}

func TestNewIndexerCoordinator_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewIndexerCoordinator()
	require.ErrorContains(t, err, "at least one indexer is required")

	_, err = NewIndexerCoordinator(testDefinition(nil), testDefinition(nil))
	require.ErrorContains(t, err, "both follow")
}

type mapHandle map[string]any

func (m mapHandle) SaveEntity(entityType, id string, value any) error {
	m[entityType+"/"+id] = value
	return nil
}

func (m mapHandle) LoadEntity(_ context.Context, entityType, id string) (any, bool, error) {
	v, ok := m[entityType+"/"+id]
	return v, ok, nil
}

func TestLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := mapHandle{}
	require.NoError(t, h.SaveEntity("Balance", "a", balance{Amount: serde.NewBigInt(3)}))
	require.NoError(t, h.SaveEntity("Other", "a", "text"))

	value, found, err := Load[balance](ctx, h, "Balance", "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", value.Amount.String())

	_, found, err = Load[balance](ctx, h, "Balance", "missing")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = Load[balance](ctx, h, "Other", "a")
	require.ErrorContains(t, err, "holds string")
}
