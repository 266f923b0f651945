package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/EntityIndexor/pkg/serde"
)

// StorageHandle is the view of entity storage a handler gets. It is bound to
// the block the handled log belongs to.
type StorageHandle interface {
	// SaveEntity stages value under (entityType, id) for the bound block.
	SaveEntity(entityType, id string, value any) error

	// LoadEntity returns the latest value of (entityType, id) visible from the
	// bound block.
	LoadEntity(ctx context.Context, entityType, id string) (any, bool, error)
}

// Event is a decoded log.
type Event struct {
	// Name is the ABI event name.
	Name string

	// Args holds indexed and non-indexed arguments by name. Unnamed
	// arguments are called arg0, arg1 and so on.
	Args map[string]any
}

// Handler projects one event into entity writes. A handler must have no side
// effects outside h: the writes of a block are discarded wholesale when the
// block is reorganized out.
type Handler func(ctx context.Context, h StorageHandle, event Event, log types.Log) error

// Definition describes one indexed contract.
type Definition struct {
	// Name is used in logs and errors.
	Name string

	Address common.Address
	ABI     abi.ABI

	// StartBlock is the deployment block of the contract.
	StartBlock uint64

	// Entities are the entity kinds the handlers read and write.
	Entities []serde.Kind

	// Handlers maps an ABI event name to its handler.
	Handlers map[string]Handler
}

// Validate checks that every handler refers to an event of the ABI.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New("indexer name is required")
	}
	if d.Address == (common.Address{}) {
		return fmt.Errorf("indexer %s: address is required", d.Name)
	}
	if len(d.Handlers) == 0 {
		return fmt.Errorf("indexer %s: at least one handler is required", d.Name)
	}

	for name, handler := range d.Handlers {
		if handler == nil {
			return fmt.Errorf("indexer %s: handler for %s is nil", d.Name, name)
		}
		if _, ok := d.ABI.Events[name]; !ok {
			return fmt.Errorf("indexer %s: handler for %s: %w", d.Name, name, ErrUnknownEvent)
		}
	}

	return nil
}

// Topics returns the topic0 of every handled event.
func (d *Definition) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.Handlers))
	for name := range d.Handlers {
		if event, ok := d.ABI.Events[name]; ok {
			topics = append(topics, event.ID)
		}
	}
	sortHashes(topics)
	return topics
}

// Decode resolves the event of log and unpacks its arguments.
func (d *Definition) Decode(log types.Log) (*abi.Event, Event, error) {
	if len(log.Topics) == 0 {
		return nil, Event{}, fmt.Errorf("log %d of block %d has no topics: %w", log.Index, log.BlockNumber, ErrUnknownEvent)
	}

	event, err := d.ABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, Event{}, fmt.Errorf("no event of %s has signature %s: %w", d.Name, log.Topics[0].Hex(), ErrUnknownEvent)
	}

	args := make(map[string]any, len(event.Inputs))
	if err := event.Inputs.UnpackIntoMap(args, log.Data); err != nil {
		return event, Event{}, fmt.Errorf("failed to unpack data of %s: %w", event.Name, err)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return event, Event{}, fmt.Errorf("failed to parse topics of %s: %w", event.Name, err)
	}

	return event, Event{Name: event.Name, Args: args}, nil
}

// Load is LoadEntity with the result asserted to T.
func Load[T any](ctx context.Context, h StorageHandle, entityType, id string) (T, bool, error) {
	var zero T

	value, found, err := h.LoadEntity(ctx, entityType, id)
	if err != nil || !found {
		return zero, false, err
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false, fmt.Errorf("entity %s/%s holds %T, not %T", entityType, id, value, zero)
	}
	return typed, true, nil
}

// Arg returns the decoded argument name asserted to T.
func Arg[T any](event Event, name string) (T, error) {
	var zero T

	raw, ok := event.Args[name]
	if !ok {
		return zero, fmt.Errorf("event %s has no argument %s", event.Name, name)
	}

	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("argument %s of %s is %T, not %T", name, event.Name, raw, zero)
	}
	return value, nil
}
