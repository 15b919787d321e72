package aggregator

import "math/big"

// EventMeta is the chain context shared by every input log.
type EventMeta struct {
	// Address is the emitting contract.
	Address     string
	BlockNumber uint64
	Timestamp   uint64
	TxHash      string
	// TxFrom is the transaction sender, empty when the feed does not provide it.
	TxFrom   string
	LogIndex uint64
}

// Meta returns the event's chain context.
func (m EventMeta) Meta() EventMeta { return m }

// Event is implemented by every aggregator input.
type Event interface {
	Meta() EventMeta
}

// TransferLog is an LP-token Transfer emitted by a pair.
type TransferLog struct {
	EventMeta
	From  string
	To    string
	Value *big.Int
}

// SyncLog carries a pair's post-update reserves.
type SyncLog struct {
	EventMeta
	Reserve0 *big.Int
	Reserve1 *big.Int
}

type MintLog struct {
	EventMeta
	Sender  string
	Amount0 *big.Int
	Amount1 *big.Int
}

type BurnLog struct {
	EventMeta
	Sender  string
	To      string
	Amount0 *big.Int
	Amount1 *big.Int
}

type SwapLog struct {
	EventMeta
	Sender     string
	To         string
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// PairCreatedLog is emitted by the factory when a pool is deployed.
type PairCreatedLog struct {
	EventMeta
	Token0 string
	Token1 string
	Pair   string
}
