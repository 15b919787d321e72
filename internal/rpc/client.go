package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 30 * time.Second

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client wraps an Ethereum client for log and block retrieval
type Client struct {
	backend  Backend
	closer   func()
	endpoint string
	chainID  *big.Int
	signer   types.Signer
	workers  int64
	logger   zerolog.Logger
}

// BlockContext is the block data a log does not carry.
type BlockContext struct {
	Timestamp uint64
	// Senders maps transaction hashes to their recovered senders.
	Senders map[common.Hash]common.Address
}

// NewClient dials endpoint. Plain HTTP endpoints share a pooled http.Client.
func NewClient(endpoint string, chainID int64, workers int, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "rpc").Logger()

	var (
		rpcClient *rpc.Client
		err       error
	)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		httpClient := &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        workers * 2,
				MaxIdleConnsPerHost: workers * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
		rpcClient, err = rpc.DialHTTPWithClient(endpoint, httpClient)
	} else {
		rpcClient, err = rpc.Dial(endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := ethclient.NewClient(rpcClient)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	networkID, err := client.ChainID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to verify chain ID, continuing anyway")
	} else if networkID.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", chainID, networkID.Int64())
	}

	logger.Info().
		Str("endpoint", endpoint).
		Int64("chain_id", chainID).
		Msg("Connected to RPC endpoint")

	c := NewClientWithBackend(client, chainID, workers, logger)
	c.endpoint = endpoint
	c.closer = client.Close
	return c, nil
}

// NewClientWithBackend wraps an existing backend.
func NewClientWithBackend(backend Backend, chainID int64, workers int, logger zerolog.Logger) *Client {
	if workers <= 0 {
		workers = 1
	}
	id := big.NewInt(chainID)
	return &Client{
		backend: backend,
		closer:  func() {},
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		workers: int64(workers),
		logger:  logger,
	}
}

// Caller exposes the backend for contract calls.
func (c *Client) Caller() Backend {
	return c.backend
}

// Close closes the RPC client connection
func (c *Client) Close() {
	c.closer()
	c.logger.Info().Msg("RPC client connection closed")
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// GetLogs fetches logs in [from, to] emitted by addresses (any address when
// empty) whose topic0 is one of topics.
func (c *Client) GetLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}

	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for range %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// BlockContexts fetches the given blocks concurrently and returns their
// timestamps and transaction senders.
func (c *Client) BlockContexts(ctx context.Context, numbers []uint64) (map[uint64]BlockContext, error) {
	sem := semaphore.NewWeighted(c.workers)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fetchErr error
	)
	contexts := make(map[uint64]BlockContext, len(numbers))

	fail := func(err error) {
		mu.Lock()
		if fetchErr == nil {
			fetchErr = err
		}
		mu.Unlock()
	}

	for _, number := range numbers {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}

		wg.Add(1)
		go func(number uint64) {
			defer wg.Done()
			defer sem.Release(1)

			blockCtx, err := c.blockContext(ctx, number)
			if err != nil {
				fail(err)
				return
			}

			mu.Lock()
			contexts[number] = blockCtx
			mu.Unlock()
		}(number)
	}

	wg.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}

	c.logger.Debug().Int("blocks", len(contexts)).Msg("Fetched block contexts")
	return contexts, nil
}

func (c *Client) blockContext(ctx context.Context, number uint64) (BlockContext, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	block, err := c.backend.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockContext{}, fmt.Errorf("failed to get block %d: %w", number, err)
	}

	blockCtx := BlockContext{
		Timestamp: block.Time(),
		Senders:   make(map[common.Hash]common.Address, len(block.Transactions())),
	}
	for _, tx := range block.Transactions() {
		sender, err := types.Sender(c.signer, tx)
		if err != nil {
			c.logger.Debug().
				Err(err).
				Str("tx_hash", tx.Hash().Hex()).
				Uint64("block", number).
				Msg("Could not recover transaction sender")
			continue
		}
		blockCtx.Senders[tx.Hash()] = sender
	}
	return blockCtx, nil
}

// IsConnected checks if the client is connected to the RPC endpoint
func (c *Client) IsConnected(ctx context.Context) bool {
	_, err := c.GetLatestBlockNumber(ctx)
	return err == nil
}

// Retry wraps a function with retry logic
func (c *Client) Retry(ctx context.Context, fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			c.logger.Warn().
				Err(err).
				Int("attempt", i+1).
				Dur("wait", waitTime).
				Msg("Retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
