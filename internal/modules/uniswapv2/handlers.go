package uniswapv2

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
)

// errMalformedArgs is returned when a decoded log lacks an expected argument.
type errMalformedArgs struct {
	Event string
	Arg   string
}

func (e errMalformedArgs) Error() string {
	return "event " + e.Event + " has no valid argument " + e.Arg
}

func (m *Module) registerEventHandlers() {
	m.handlers[PairCreatedTopic] = handlePairCreated
	m.handlers[TransferTopic] = handleTransfer
	m.handlers[SyncTopic] = handleSync
	m.handlers[MintTopic] = handleMint
	m.handlers[BurnTopic] = handleBurn
	m.handlers[SwapTopic] = handleSwap
}

func handlePairCreated(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.PairCreatedLog{
		EventMeta: eventMeta(event),
		Token0:    args.address("token0"),
		Token1:    args.address("token1"),
		Pair:      args.address("pair"),
	}
	if args.err != nil {
		return args.err
	}

	m.logger.Info().
		Str("pair", ev.Pair).
		Str("token0", ev.Token0).
		Str("token1", ev.Token1).
		Uint64("block", ev.BlockNumber).
		Msg("Pair created")

	return m.agg.HandlePairCreated(ctx, ev)
}

func handleTransfer(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.TransferLog{
		EventMeta: eventMeta(event),
		From:      args.address("from"),
		To:        args.address("to"),
		Value:     args.bigInt("value"),
	}
	if args.err != nil {
		return args.err
	}
	return m.agg.HandleTransfer(ctx, ev)
}

func handleSync(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.SyncLog{
		EventMeta: eventMeta(event),
		Reserve0:  args.bigInt("reserve0"),
		Reserve1:  args.bigInt("reserve1"),
	}
	if args.err != nil {
		return args.err
	}
	return m.agg.HandleSync(ctx, ev)
}

func handleMint(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.MintLog{
		EventMeta: eventMeta(event),
		Sender:    args.address("sender"),
		Amount0:   args.bigInt("amount0"),
		Amount1:   args.bigInt("amount1"),
	}
	if args.err != nil {
		return args.err
	}
	return m.agg.HandleMint(ctx, ev)
}

func handleBurn(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.BurnLog{
		EventMeta: eventMeta(event),
		Sender:    args.address("sender"),
		To:        args.address("to"),
		Amount0:   args.bigInt("amount0"),
		Amount1:   args.bigInt("amount1"),
	}
	if args.err != nil {
		return args.err
	}
	return m.agg.HandleBurn(ctx, ev)
}

func handleSwap(ctx context.Context, m *Module, event *core.ParsedEvent) error {
	args := argReader{event: event}
	ev := aggregator.SwapLog{
		EventMeta:  eventMeta(event),
		Sender:     args.address("sender"),
		To:         args.address("to"),
		Amount0In:  args.bigInt("amount0In"),
		Amount1In:  args.bigInt("amount1In"),
		Amount0Out: args.bigInt("amount0Out"),
		Amount1Out: args.bigInt("amount1Out"),
	}
	if args.err != nil {
		return args.err
	}
	return m.agg.HandleSwap(ctx, ev)
}

func eventMeta(event *core.ParsedEvent) aggregator.EventMeta {
	meta := aggregator.EventMeta{
		Address:     hexAddress(event.Address),
		BlockNumber: event.BlockNumber,
		Timestamp:   event.Timestamp,
		TxHash:      event.TransactionHash.Hex(),
		LogIndex:    uint64(event.LogIndex),
	}
	if event.From != (common.Address{}) {
		meta.TxFrom = hexAddress(event.From)
	}
	return meta
}

func hexAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// argReader extracts typed arguments and remembers the first missing one.
type argReader struct {
	event *core.ParsedEvent
	err   error
}

func (r *argReader) address(name string) string {
	v, ok := r.event.AddressArg(name)
	if !ok {
		r.fail(name)
		return ""
	}
	return hexAddress(v)
}

func (r *argReader) bigInt(name string) *big.Int {
	v, ok := r.event.BigArg(name)
	if !ok {
		r.fail(name)
		return new(big.Int)
	}
	return v
}

func (r *argReader) fail(name string) {
	if r.err == nil {
		r.err = errMalformedArgs{Event: r.event.EventName, Arg: name}
	}
}
