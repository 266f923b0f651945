package follower

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/internal/lineage"
	"github.com/goran-ethernal/EntityIndexor/internal/staging"
	"github.com/goran-ethernal/EntityIndexor/pkg/indexer"
)

// ReorgTooDeepError is returned when the chain no longer contains the
// finalized block. Persisted state cannot be rolled back, so the follower
// stops and needs an operator.
type ReorgTooDeepError struct {
	Finalized lineage.BlockIdentifier
	Observed  lineage.BlockIdentifier
	MaxDepth  uint64
}

func (e *ReorgTooDeepError) Error() string {
	return fmt.Sprintf("reorg deeper than %d blocks: finalized block is %s but the chain has %s",
		e.MaxDepth, e.Finalized, e.Observed)
}

// HandlerFailureError is returned when a handler fails. It carries what the
// handler saw so the failure can be diagnosed from the log line alone.
type HandlerFailureError struct {
	Indexer        string
	Log            types.Log
	Event          indexer.Event
	LoadedEntities []staging.EntityWithMetadata
	Err            error
}

func (e *HandlerFailureError) Error() string {
	return fmt.Sprintf("indexer %s failed to handle %s (block %d, tx %d, log %d): %v",
		e.Indexer, e.Event.Name, e.Log.BlockNumber, e.Log.TxIndex, e.Log.Index, e.Err)
}

func (e *HandlerFailureError) Unwrap() error {
	return e.Err
}
