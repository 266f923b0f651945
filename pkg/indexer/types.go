package indexer

import (
	"bytes"
	"errors"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoIndexer is returned for a log emitted by a contract no definition follows.
	ErrNoIndexer = errors.New("no indexer for address")

	// ErrUnknownEvent is returned for a topic0 the ABI does not declare.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNoHandler is returned for a declared event without a handler.
	ErrNoHandler = errors.New("no handler for event")
)

func sortHashes(hashes []common.Hash) {
	slices.SortFunc(hashes, func(a, b common.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
}
