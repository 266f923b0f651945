package store

import (
	"strings"

	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexkey"
	"github.com/goran-ethernal/EntityIndexor/pkg/reader"
)

const (
	indexesPrefix = "indexes|"
	undoLogPrefix = "undoLog|"

	latestBlockKey        = "latest"
	rollingBackStartedKey = "rollingBackStarted"

	keySeparator = "|"
)

// IndexEntryKey returns the key of one index entry. Its value is the id.
func IndexEntryKey(entityType, index, encodedKey, id string) string {
	return IndexPrefix(entityType, index) + encodedKey + keySeparator + id
}

// IndexPrefix returns the prefix shared by every entry of one index.
func IndexPrefix(entityType, index string) string {
	return indexesPrefix + entityType + keySeparator + index + keySeparator
}

// ResolveIndexQuery returns the key prefix an index query is confined to and
// the first key it may return.
func ResolveIndexQuery(entityType, index string, query reader.IndexQuery) (prefix, start string) {
	if query.ExactKey != nil {
		prefix = IndexPrefix(entityType, index) + *query.ExactKey + keySeparator
		return prefix, prefix
	}

	prefix = IndexPrefix(entityType, index)
	return prefix, prefix + query.StartingKey
}

// EncodedIndexKey extracts the encoded index key from an index entry key.
func EncodedIndexKey(entryKey string) string {
	parts := strings.SplitN(entryKey, keySeparator, 5)
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

func entityKey(entityType, id string) string {
	return staging.EntityKey(entityType, id)
}

func undoLogKey(seq uint64) string {
	return undoLogPrefix + indexkey.EncodeUint64(seq)
}
