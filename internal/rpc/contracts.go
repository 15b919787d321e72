package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

const erc20ABI = `[
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Some early tokens return bytes32 instead of string for name and symbol.
const erc20Bytes32ABI = `[
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

const factoryABI = `[
  {"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
   "name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}
]`

var (
	parsedERC20        = mustParseABI(erc20ABI)
	parsedERC20Bytes32 = mustParseABI(erc20Bytes32ABI)
	parsedFactory      = mustParseABI(factoryABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in ABI: %v", err))
	}
	return parsed
}

// isContractFailure reports whether err came from the contract rather than the transport.
func isContractFailure(err error) bool {
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "abi: ")
}

// TokenReader fetches ERC20 metadata with eth_call.
type TokenReader struct {
	caller bind.ContractCaller
	logger zerolog.Logger
}

var _ aggregator.TokenMetadata = (*TokenReader)(nil)

func NewTokenReader(caller bind.ContractCaller, logger zerolog.Logger) *TokenReader {
	return &TokenReader{
		caller: caller,
		logger: logger.With().Str("component", "token_reader").Logger(),
	}
}

// TokenInfo returns the token's metadata. A token whose decimals cannot be read
// yields aggregator.ErrMissingDecimals. Unreadable names and symbols become "unknown".
func (r *TokenReader) TokenInfo(ctx context.Context, address string) (aggregator.TokenInfo, error) {
	addr := common.HexToAddress(address)
	contract := bind.NewBoundContract(addr, parsedERC20, r.caller, nil, nil)
	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	if err := contract.Call(opts, &out, "decimals"); err != nil {
		if isContractFailure(err) {
			r.logger.Warn().Err(err).Str("token", address).Msg("Token has no readable decimals")
			return aggregator.TokenInfo{}, aggregator.ErrMissingDecimals
		}
		return aggregator.TokenInfo{}, fmt.Errorf("failed to fetch decimals for %s: %w", address, err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return aggregator.TokenInfo{}, aggregator.ErrMissingDecimals
	}

	info := aggregator.TokenInfo{Decimals: int64(decimals), TotalSupply: decimal.Zero}

	var err error
	if info.Symbol, err = r.text(ctx, addr, contract, "symbol"); err != nil {
		return aggregator.TokenInfo{}, err
	}
	if info.Name, err = r.text(ctx, addr, contract, "name"); err != nil {
		return aggregator.TokenInfo{}, err
	}

	out = nil
	if err := contract.Call(opts, &out, "totalSupply"); err != nil {
		if !isContractFailure(err) {
			return aggregator.TokenInfo{}, fmt.Errorf("failed to fetch total supply for %s: %w", address, err)
		}
	} else if supply, ok := out[0].(*big.Int); ok {
		info.TotalSupply = decimal.NewFromBigInt(supply, 0)
	}

	r.logger.Debug().
		Str("token", address).
		Str("symbol", info.Symbol).
		Int64("decimals", info.Decimals).
		Msg("Fetched token metadata")

	return info, nil
}

// text reads a string getter, falling back to a bytes32 getter.
func (r *TokenReader) text(ctx context.Context, addr common.Address, contract *bind.BoundContract, method string) (string, error) {
	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	err := contract.Call(opts, &out, method)
	if err == nil {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	} else if !isContractFailure(err) {
		return "", fmt.Errorf("failed to fetch %s for %s: %w", method, addr.Hex(), err)
	}

	legacy := bind.NewBoundContract(addr, parsedERC20Bytes32, r.caller, nil, nil)
	out = nil
	if err := legacy.Call(opts, &out, method); err != nil {
		if !isContractFailure(err) {
			return "", fmt.Errorf("failed to fetch %s for %s: %w", method, addr.Hex(), err)
		}
		return "unknown", nil
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return "unknown", nil
	}
	if s := strings.TrimRight(string(raw[:]), "\x00"); s != "" {
		return s, nil
	}
	return "unknown", nil
}

// FactoryLookup answers getPair by calling the factory contract at the latest block.
type FactoryLookup struct {
	contract *bind.BoundContract
}

var _ aggregator.PairLookup = (*FactoryLookup)(nil)

func NewFactoryLookup(caller bind.ContractCaller, factory string) *FactoryLookup {
	return &FactoryLookup{
		contract: bind.NewBoundContract(common.HexToAddress(factory), parsedFactory, caller, nil, nil),
	}
}

func (f *FactoryLookup) GetPair(ctx context.Context, tokenA, tokenB string) (string, bool, error) {
	var out []interface{}
	err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPair",
		common.HexToAddress(tokenA), common.HexToAddress(tokenB))
	if err != nil {
		return "", false, fmt.Errorf("failed to call getPair(%s, %s): %w", tokenA, tokenB, err)
	}

	pair, ok := out[0].(common.Address)
	if !ok || pair == (common.Address{}) {
		return "", false, nil
	}
	return strings.ToLower(pair.Hex()), true, nil
}
