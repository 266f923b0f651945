package indexer

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

// Dispatch is a log resolved to the handler that consumes it.
type Dispatch struct {
	Indexer *Definition
	ABI     *abi.Event
	Event   Event
	Handler Handler
}

// IndexerCoordinator routes logs to the definitions that follow their
// emitting contract.
type IndexerCoordinator struct {
	definitions []*Definition
	byAddress   map[common.Address]*Definition
	kinds       *serde.Kinds
	filter      ethereum.FilterQuery
}

// NewIndexerCoordinator validates defs and merges their filters and entity
// kinds. Two definitions may not follow the same address.
func NewIndexerCoordinator(defs ...*Definition) (*IndexerCoordinator, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("at least one indexer is required")
	}

	byAddress := make(map[common.Address]*Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if other, ok := byAddress[def.Address]; ok {
			return nil, fmt.Errorf("indexers %s and %s both follow %s", other.Name, def.Name, def.Address.Hex())
		}
		byAddress[def.Address] = def
	}

	kinds, err := CombinedKinds(defs)
	if err != nil {
		return nil, err
	}

	return &IndexerCoordinator{
		definitions: defs,
		byAddress:   byAddress,
		kinds:       kinds,
		filter:      TopicFilter(defs),
	}, nil
}

// Definitions returns the coordinated definitions.
func (ic *IndexerCoordinator) Definitions() []*Definition {
	return ic.definitions
}

// Kinds returns the entity kinds of all definitions.
func (ic *IndexerCoordinator) Kinds() *serde.Kinds {
	return ic.kinds
}

// Filter returns the log filter covering every handled event.
func (ic *IndexerCoordinator) Filter() ethereum.FilterQuery {
	return ic.filter
}

// StartBlock returns the lowest start block of all definitions.
func (ic *IndexerCoordinator) StartBlock() uint64 {
	start := uint64(math.MaxUint64)
	for _, def := range ic.definitions {
		start = min(start, def.StartBlock)
	}
	return start
}

// Route finds the definition, ABI event and handler for log and decodes it.
func (ic *IndexerCoordinator) Route(log types.Log) (Dispatch, error) {
	def, ok := ic.byAddress[log.Address]
	if !ok {
		return Dispatch{}, fmt.Errorf("%w %s", ErrNoIndexer, log.Address.Hex())
	}

	event, decoded, err := def.Decode(log)
	if err != nil {
		return Dispatch{Indexer: def, ABI: event}, err
	}

	handler, ok := def.Handlers[event.Name]
	if !ok {
		return Dispatch{Indexer: def, ABI: event, Event: decoded},
			fmt.Errorf("%w %s of indexer %s", ErrNoHandler, event.Name, def.Name)
	}

	return Dispatch{Indexer: def, ABI: event, Event: decoded, Handler: handler}, nil
}

// TopicFilter merges the filters of defs. Addresses are concatenated and
// topic positions merged slot by slot, so topic0 matches any handled event of
// any definition.
func TopicFilter(defs []*Definition) ethereum.FilterQuery {
	var query ethereum.FilterQuery
	for _, def := range defs {
		query.Addresses = append(query.Addresses, def.Address)
		query.Topics = mergeTopics(query.Topics, [][]common.Hash{def.Topics()})
	}
	return query
}

func mergeTopics(a, b [][]common.Hash) [][]common.Hash {
	merged := make([][]common.Hash, max(len(a), len(b)))
	for i := range merged {
		if i < len(a) {
			merged[i] = append(merged[i], a[i]...)
		}
		if i < len(b) {
			merged[i] = append(merged[i], b[i]...)
		}
	}
	return merged
}

// CombinedKinds registers the entity kinds of every definition. The same
// kind may be shared by several definitions; two different kinds with one
// name are rejected.
func CombinedKinds(defs []*Definition) (*serde.Kinds, error) {
	kinds, err := serde.NewKinds()
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		for _, kind := range def.Entities {
			if existing, err := kinds.Get(kind.EntityType()); err == nil {
				if existing == kind {
					continue
				}
				return nil, fmt.Errorf("indexer %s: entity type %s is already defined by another indexer",
					def.Name, kind.EntityType())
			}
			if err := kinds.Add(kind); err != nil {
				return nil, fmt.Errorf("indexer %s: %w", def.Name, err)
			}
		}
	}

	return kinds, nil
}
