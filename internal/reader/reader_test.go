package reader

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/EntityIndexor/internal/kv"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/internal/store"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexkey"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type account struct {
	Balance int64 `json:"balance"`
}

const (
	accountType = "Account"
	byBalance   = "byBalance"
)

func kinds(t require.TestingT) *serde.Kinds {
	k, err := serde.NewKinds(serde.EntityDefinition[account]{
		Name: accountType,
		Indexes: []serde.IndexDefinition[account]{
			{Name: byBalance, Key: func(a account) string { return indexkey.EncodeInt64(a.Balance) }},
		},
	}.Kind())
	require.NoError(t, err)
	return k
}

func blockID(n uint64, branch byte) lineage.BlockIdentifier {
	return lineage.BlockIdentifier{Number: n, Hash: common.BytesToHash([]byte{branch, byte(n)})}
}

type fixture struct {
	store *store.EntityStore
	area  *staging.StorageArea
}

// newFixture persists balances at block 1 and returns an area finalized
// there.
func newFixture(t require.TestingT, persisted map[string]int64) *fixture {
	ctx := context.Background()

	storage, err := kv.OpenLevelDB("", 1<<20, logger.NewNopLogger())
	require.NoError(t, err)

	s := store.New(storage, kinds(t), logger.NewNopLogger())
	require.NoError(t, s.EnsureConsistentState(ctx))
	require.NoError(t, s.InitializeFinalizedBlock(ctx, blockID(0, 'a')))

	writes := make([]staging.EntityWithMetadata, 0, len(persisted))
	for id, balance := range persisted {
		writes = append(writes, staging.EntityWithMetadata{EntityType: accountType, ID: id, Value: account{Balance: balance}})
	}
	require.NoError(t, s.FlushUpdates(ctx, blockID(1, 'a'), writes))

	return &fixture{store: s, area: staging.NewStorageArea(blockID(1, 'a'))}
}

// stage records block on top of parent and writes balances into it.
func (f *fixture) stage(block, parent lineage.BlockIdentifier, balances map[string]int64) {
	f.area.AddParent(block, parent)
	for id, balance := range balances {
		f.area.Save(block.Hash, staging.EntityWithMetadata{EntityType: accountType, ID: id, Value: account{Balance: balance}})
	}
	f.area.AdvanceTip(block)
}

type result struct {
	ID      string
	Balance int64
}

func query(t require.TestingT, r reader.Reader, q reader.IndexQuery) []result {
	it, err := r.GetEntitiesByIndex(context.Background(), accountType, byBalance, q)
	require.NoError(t, err)

	values, err := reader.Collect(context.Background(), it, 0)
	require.NoError(t, err)

	out := make([]result, 0, len(values))
	for _, v := range values {
		out = append(out, result{ID: v.EntityID, Balance: v.Value.(account).Balance})
	}
	return out
}

func TestReader_GetEntity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, map[string]int64{"a": 1, "b": 2})
	f.stage(blockID(2, 'a'), blockID(1, 'a'), map[string]int64{"b": 20, "c": 30})
	f.stage(blockID(2, 'b'), blockID(1, 'a'), map[string]int64{"a": 99})
	f.stage(blockID(3, 'a'), blockID(2, 'a'), nil)

	tests := []struct {
		name   string
		reader *Reader
		id     string
		found  bool
		value  account
	}{
		{name: "persisted only", reader: New(f.store, f.area), id: "a", found: true, value: account{Balance: 1}},
		{name: "staged shadows persisted", reader: New(f.store, f.area), id: "b", found: true, value: account{Balance: 20}},
		{name: "staged only", reader: New(f.store, f.area), id: "c", found: true, value: account{Balance: 30}},
		{name: "missing", reader: New(f.store, f.area), id: "z"},
		{name: "sibling branch", reader: NewAt(f.store, f.area, blockID(2, 'b')), id: "a", found: true, value: account{Balance: 99}},
		{name: "sibling does not see other branch", reader: NewAt(f.store, f.area, blockID(2, 'b')), id: "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found, err := tt.reader.GetEntity(ctx, accountType, tt.id)
			require.NoError(t, err)
			require.Equal(t, tt.found, found)
			if tt.found {
				require.Equal(t, tt.value, value)
			}
		})
	}

	require.Equal(t, blockID(3, 'a'), New(f.store, f.area).LatestBlock())
}

func TestReader_GetEntitiesByIndex(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]int64{"a": 1, "b": 2, "c": 3})
	f.stage(blockID(2, 'a'), blockID(1, 'a'), map[string]int64{"b": 10, "d": 0})
	f.stage(blockID(3, 'a'), blockID(2, 'a'), map[string]int64{"c": -5})

	tip := New(f.store, f.area)
	atTwo := NewAt(f.store, f.area, blockID(2, 'a'))

	tests := []struct {
		name     string
		reader   *Reader
		query    reader.IndexQuery
		expected []result
	}{
		{
			name:     "full range merges both tiers",
			reader:   tip,
			query:    reader.From(""),
			expected: []result{{"c", -5}, {"d", 0}, {"a", 1}, {"b", 10}},
		},
		{
			name:     "older head",
			reader:   atTwo,
			query:    reader.From(""),
			expected: []result{{"d", 0}, {"a", 1}, {"c", 3}, {"b", 10}},
		},
		{
			name:     "staged value moved below the starting key hides the persisted one",
			reader:   tip,
			query:    reader.From(indexkey.EncodeInt64(2)),
			expected: []result{{"b", 10}},
		},
		{
			name:     "exact key shadowed by staged value",
			reader:   tip,
			query:    reader.Exact(indexkey.EncodeInt64(3)),
			expected: []result{},
		},
		{
			name:     "exact key on staged value",
			reader:   tip,
			query:    reader.Exact(indexkey.EncodeInt64(0)),
			expected: []result{{"d", 0}},
		},
		{
			name:     "restart from a returned entry",
			reader:   tip,
			query:    reader.From(reader.IndexedValue{IndexKey: indexkey.EncodeInt64(0), EntityID: "d"}.StartingKey()),
			expected: []result{{"d", 0}, {"a", 1}, {"b", 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, query(t, tt.reader, tt.query))
		})
	}
}

func TestReader_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)

	_, _, err := New(f.store, f.area).GetEntity(ctx, "Nope", "a")
	require.ErrorIs(t, err, serde.ErrUnknownEntity)

	_, err = New(f.store, f.area).GetEntitiesByIndex(ctx, accountType, "byNothing", reader.From(""))
	require.ErrorIs(t, err, serde.ErrUnknownIndex)

	orphan := NewAt(f.store, f.area, blockID(5, 'z'))
	_, _, err = orphan.GetEntity(ctx, accountType, "a")
	require.ErrorIs(t, err, lineage.ErrMissingParent)

	it, err := New(f.store, f.area).GetEntitiesByIndex(ctx, accountType, byBalance, reader.From(""))
	require.NoError(t, err)
	require.NoError(t, it.Close())
	_, _, err = it.Next(ctx)
	require.ErrorIs(t, err, reader.ErrIteratorClosed)
}

// A range query yields every visible entity exactly once in key order, no
// matter which tier holds its latest version.
func TestReader_MergeProperty(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c", "d", "e", "f"}

	rapid.Check(t, func(t *rapid.T) {
		balances := func(label string) map[string]int64 {
			out := make(map[string]int64)
			for _, id := range ids {
				if rapid.Bool().Draw(t, label+" "+id) {
					out[id] = rapid.Int64Range(-50, 50).Draw(t, label+" balance "+id)
				}
			}
			return out
		}

		persisted := balances("persisted")
		first := balances("block 2")
		second := balances("block 3")
		start := rapid.Int64Range(-60, 60).Draw(t, "start")

		f := newFixture(t, persisted)
		f.stage(blockID(2, 'a'), blockID(1, 'a'), first)
		f.stage(blockID(3, 'a'), blockID(2, 'a'), second)

		visible := make(map[string]int64)
		for _, layer := range []map[string]int64{persisted, first, second} {
			for id, balance := range layer {
				visible[id] = balance
			}
		}

		startKey := indexkey.EncodeInt64(start)
		expected := []result{}
		for id, balance := range visible {
			if indexkey.EncodeInt64(balance) >= startKey {
				expected = append(expected, result{ID: id, Balance: balance})
			}
		}
		sort.Slice(expected, func(i, j int) bool {
			ki := indexkey.EncodeInt64(expected[i].Balance) + "|" + expected[i].ID
			kj := indexkey.EncodeInt64(expected[j].Balance) + "|" + expected[j].ID
			return ki < kj
		})

		require.Equal(t, expected, query(t, New(f.store, f.area), reader.From(startKey)), fmt.Sprintf("start %d", start))
	})
}

type countingReader struct {
	reader.Reader
	calls int
}

func (c *countingReader) GetEntity(ctx context.Context, entityType, id string) (any, bool, error) {
	c.calls++
	return c.Reader.GetEntity(ctx, entityType, id)
}

func TestCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, map[string]int64{"a": 1})
	inner := &countingReader{Reader: New(f.store, f.area)}

	cached, err := NewCached(inner, kinds(t), 16)
	require.NoError(t, err)

	for range 3 {
		value, found, err := cached.GetEntity(ctx, accountType, "a")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, account{Balance: 1}, value)
	}

	_, found, err := cached.GetEntity(ctx, accountType, "missing")
	require.NoError(t, err)
	require.False(t, found)
	_, _, err = cached.GetEntity(ctx, accountType, "missing")
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)

	_, err = NewCached(inner, kinds(t), 0)
	require.Error(t, err)
}
