package core

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent represents a decoded event log
type ParsedEvent struct {
	Log *types.Log

	EventName string
	Address   common.Address

	// Args holds indexed and non-indexed arguments by ABI name
	Args map[string]interface{}

	TransactionHash common.Hash
	BlockNumber     uint64
	LogIndex        uint
	Timestamp       uint64
	From            common.Address
}

// AddressArg returns an address argument, or false if it is missing or mistyped.
func (e *ParsedEvent) AddressArg(name string) (common.Address, bool) {
	v, ok := e.Args[name].(common.Address)
	return v, ok
}

// BigArg returns an integer argument, or false if it is missing or mistyped.
func (e *ParsedEvent) BigArg(name string) (*big.Int, bool) {
	v, ok := e.Args[name].(*big.Int)
	return v, ok
}

// EventParser decodes logs using the events of the registered ABIs
type EventParser struct {
	events map[common.Hash]abi.Event // topic0 -> event
}

func NewEventParser() *EventParser {
	return &EventParser{events: make(map[common.Hash]abi.Event)}
}

// AddABI makes every event of contractABI parseable.
func (p *EventParser) AddABI(contractABI *abi.ABI) {
	for _, event := range contractABI.Events {
		p.events[event.ID] = event
	}
}

// Knows reports whether topic0 belongs to a registered event.
func (p *EventParser) Knows(topic0 common.Hash) bool {
	_, ok := p.events[topic0]
	return ok
}

// ParseEvent decodes a routed event into its named arguments.
func (p *EventParser) ParseEvent(raw *RawEvent) (*ParsedEvent, error) {
	log := raw.Log
	if len(log.Topics) == 0 {
		return nil, ErrInvalidEvent{Reason: "no topics in log"}
	}

	event, exists := p.events[log.Topics[0]]
	if !exists {
		return nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, ErrInvalidEvent{Reason: event.Name + " expects " + strconv.Itoa(len(indexed)) +
			" indexed topics, got " + strconv.Itoa(len(log.Topics)-1)}
	}

	args := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return nil, ErrEventParsing{Event: event.Name, Err: err}
	}
	if nonIndexed := event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, ErrEventParsing{Event: event.Name, Err: err}
		}
	}

	return &ParsedEvent{
		Log:             log,
		EventName:       event.Name,
		Address:         log.Address,
		Args:            args,
		TransactionHash: log.TxHash,
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
		Timestamp:       raw.Timestamp,
		From:            raw.From,
	}, nil
}

// ParseEventSignature parses a manifest event signature such as
// "Transfer(indexed address,indexed address,uint256)".
func ParseEventSignature(sig string) (*abi.Event, error) {
	open := strings.Index(sig, "(")
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, ErrInvalidEventSignature{Signature: sig}
	}

	name := sig[:open]
	params := strings.TrimSpace(sig[open+1 : len(sig)-1])

	var inputs abi.Arguments
	if params != "" {
		for i, param := range strings.Split(params, ",") {
			param = strings.TrimSpace(param)

			indexed := strings.HasPrefix(param, "indexed ")
			param = strings.TrimSpace(strings.TrimPrefix(param, "indexed "))

			argType, err := abi.NewType(param, "", nil)
			if err != nil {
				return nil, ErrInvalidEventSignature{Signature: sig}
			}
			inputs = append(inputs, abi.Argument{
				Name:    "arg" + strconv.Itoa(i),
				Type:    argType,
				Indexed: indexed,
			})
		}
	}

	event := abi.NewEvent(name, name, false, inputs)
	return &event, nil
}

// Error types
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return "invalid event: " + e.Reason
}

type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return "unknown event topic: " + e.Topic
}

type ErrEventParsing struct {
	Event string
	Err   error
}

func (e ErrEventParsing) Error() string {
	return "failed to parse event " + e.Event + ": " + e.Err.Error()
}

func (e ErrEventParsing) Unwrap() error { return e.Err }

type ErrInvalidEventSignature struct {
	Signature string
}

func (e ErrInvalidEventSignature) Error() string {
	return "invalid event signature: " + e.Signature
}
