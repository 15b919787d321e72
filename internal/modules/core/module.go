package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Module consumes the chain logs matching its filters.
// Inspired by The Graph Protocol's subgraph pattern
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Version returns the module version
	Version() string

	// Manifest returns the module's manifest configuration
	Manifest() *Manifest

	// HandleEvent processes a single event log that matches this module's filters.
	// A returned error means the event was not applied and must be retried.
	HandleEvent(ctx context.Context, event *RawEvent) error

	// GetEventFilters returns the event filters this module is interested in
	GetEventFilters() []EventFilter

	// GetStartBlock returns the block number from which this module should start processing
	GetStartBlock() uint64
}

// RawEvent is a log together with the block and transaction context a bare
// log does not carry.
type RawEvent struct {
	Log       *types.Log
	Timestamp uint64
	// From is the sender of the emitting transaction, zero when unknown.
	From common.Address
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Address is the contract address to watch (optional, empty = all addresses)
	Address string `yaml:"address,omitempty"`

	// Topic0 is the event signature hash (optional, empty = all events)
	Topic0 string `yaml:"topic0,omitempty"`
}
