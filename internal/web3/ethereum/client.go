// Package ethereum wraps go-ethereum clients behind the small ledger surface
// the swap executor needs.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"SwapRunner/pkg/logger"
)

const defaultPollInterval = 2 * time.Second

// Config describes how to reach an EVM JSON-RPC node.
type Config struct {
	RPCURL string `yaml:"rpc_url"`
	// ChainID, when non-zero, must match the node's chain id.
	ChainID int64 `yaml:"chain_id"`
	// PollInterval paces receipt polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Backend is the subset of go-ethereum client calls the Client relies on.
// Both *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client is a ledger client for one chain.
type Client struct {
	backend   Backend
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	poll      time.Duration
	afterSend func()
	log       *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials cfg.RPCURL and checks the chain id when one is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)
	c := &Client{
		backend:   eth,
		rpcClient: rpcClient,
		eth:       eth,
		poll:      cfg.PollInterval,
		log:       logger.Named("ethereum"),
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if cfg.ChainID != 0 {
		id, err := c.ChainID(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		if id.Int64() != cfg.ChainID {
			c.Close()
			return nil, fmt.Errorf("节点链 ID %s 与配置 %d 不一致", id, cfg.ChainID)
		}
	}
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every sent
// transaction is committed into a block right away.
func NewSimulatedClient(backend *simulated.Backend) *Client {
	return &Client{
		backend:   backend.Client(),
		poll:      20 * time.Millisecond,
		afterSend: func() { backend.Commit() },
		log:       logger.Named("ethereum"),
	}
}

// NewBackendClient wraps any Backend.
func NewBackendClient(backend Backend, poll time.Duration) *Client {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{backend: backend, poll: poll, log: logger.Named("ethereum")}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
		c.rpcClient = nil
	}
}

// ChainID returns the node's chain id. The first answer is cached.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// PendingNonceAt returns the pending transaction count of account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// EstimateGas estimates the gas msg would use. Errors are returned unwrapped
// so revert data stays reachable.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	return c.backend.EstimateGas(ctx, msg)
}

// CallContract executes msg against the latest state without sending it.
// Errors are returned unwrapped so revert data stays reachable.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	return c.backend.CallContract(ctx, msg, nil)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	if c.afterSend != nil {
		c.afterSend()
	}
	return nil
}

// WaitMined polls for the receipt of hash until it exists or ctx ends.
// Receipt errors other than NotFound are logged and polling continues; the
// last one is joined to ctx.Err() when the wait runs out.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	var lastErr error
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, gethcore.NotFound) && ctx.Err() == nil:
			lastErr = fmt.Errorf("查询交易回执失败: %w", err)
			c.log.Warn("receipt query failed, retrying", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}
