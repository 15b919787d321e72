package uniswapv2

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Event signatures handled by the module.
var (
	PairCreatedTopic = common.HexToHash("0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9")
	SwapTopic        = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
	SyncTopic        = common.HexToHash("0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1")
	MintTopic        = common.HexToHash("0x4c209b5fc8ad50758f13e2e1088ba56a560dff690a1c6fef26394f4c03821c4f")
	BurnTopic        = common.HexToHash("0xdccd412f0b1252819cb1fd330b93224ca42612892bb3f4f789976e6d81936496")
	TransferTopic    = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
)

// PairTopics are the events emitted by pair contracts.
var PairTopics = []common.Hash{TransferTopic, SyncTopic, MintTopic, BurnTopic, SwapTopic}

// initializeABIs sets up the contract ABIs for parsing events
func (m *Module) initializeABIs() error {
	factoryABI, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		return fmt.Errorf("failed to parse v2 factory ABI: %w", err)
	}
	m.factoryABI = &factoryABI

	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return fmt.Errorf("failed to parse v2 pair ABI: %w", err)
	}
	m.pairABI = &pairABI

	m.parser.AddABI(&factoryABI)
	m.parser.AddABI(&pairABI)

	return nil
}

// Minimal Uniswap V2 ABIs with only the events needed by the module

const FactoryABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "token0", "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "token1", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "pair",   "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "index",  "type": "uint256"}
    ],
    "name": "PairCreated",
    "type": "event"
  }
]`

const PairABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "from",  "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "to",    "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint112", "name": "reserve0", "type": "uint112"},
      {"indexed": false, "internalType": "uint112", "name": "reserve1", "type": "uint112"}
    ],
    "name": "Sync",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",  "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
    ],
    "name": "Mint",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",  "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"},
      {"indexed": true,  "internalType": "address", "name": "to",      "type": "address"}
    ],
    "name": "Burn",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",     "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount0In",  "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1In",  "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount0Out", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1Out", "type": "uint256"},
      {"indexed": true,  "internalType": "address", "name": "to",         "type": "address"}
    ],
    "name": "Swap",
    "type": "event"
  }
]`
