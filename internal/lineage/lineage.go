// Package lineage tracks the parent pointers of unfinalized blocks.
package lineage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrMissingParent means a walk over the lineage hit a hash with no recorded
// parent before reaching its destination. It always indicates a bug.
var ErrMissingParent = errors.New("cannot find parent block")

// BlockIdentifier identifies a block. Two identifiers are the same block when
// their hashes match; Number is only used for ordering.
type BlockIdentifier struct {
	Number uint64      `json:"blockNumber"`
	Hash   common.Hash `json:"hash"`
}

// FromHeader returns the identifier of h.
func FromHeader(h *types.Header) BlockIdentifier {
	return BlockIdentifier{Number: h.Number.Uint64(), Hash: h.Hash()}
}

// Parent returns the identifier of the block's parent.
func Parent(number uint64, parentHash common.Hash) BlockIdentifier {
	return BlockIdentifier{Number: number - 1, Hash: parentHash}
}

// Same reports whether b and other identify the same block.
func (b BlockIdentifier) Same(other BlockIdentifier) bool {
	return b.Hash == other.Hash
}

// String implements fmt.Stringer.
func (b BlockIdentifier) String() string {
	return fmt.Sprintf("%d (%s)", b.Number, b.Hash.Hex())
}

// Parents maps a block hash to the identifier of its parent.
type Parents map[common.Hash]BlockIdentifier

// PathBetween returns the blocks from next (inclusive) down to end (exclusive),
// closest to next first. The walk must land exactly on end.
func PathBetween(next, end BlockIdentifier, parents Parents) ([]BlockIdentifier, error) {
	if end.Number > next.Number {
		return nil, fmt.Errorf("path end %s is above path start %s", end, next)
	}

	path := make([]BlockIdentifier, 0, next.Number-end.Number)
	current := next
	for current.Number > end.Number {
		path = append(path, current)

		parent, ok := parents[current.Hash]
		if !ok {
			return nil, fmt.Errorf("%w of %s", ErrMissingParent, current)
		}
		current = parent
	}

	if current.Hash != end.Hash {
		return nil, fmt.Errorf("found path from %s to block number %d but hash mismatch: got %s, expected %s",
			next, end.Number, current.Hash.Hex(), end.Hash.Hex())
	}

	return path, nil
}
