// Package ledger is a read-only adapter to an EVM JSON-RPC node: it fetches
// transactions and receipts, counts confirmations and decodes ERC-20
// transfer calls and events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the node does not know the transaction or
// receipt. It is never retried.
var ErrNotFound = errors.New("ledger: not found")

// Config holds connection and pacing parameters for the ledger client.
type Config struct {
	RPCURL            string
	CallTimeout       time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// Client implements the ledger read surface over JSON-RPC.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

// Dial connects to the node at cfg.RPCURL.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: rpc url is required")
	}
	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial: %w", err)
	}
	return NewClient(rc, cfg, logger), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rc *rpc.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// rpcTransaction mirrors the eth_getTransactionByHash result. Decoding it
// directly keeps the sender without needing a chain signer.
type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// TransactionByHash fetches a transaction. Pending transactions are returned
// with a nil BlockNumber.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (Transaction, error) {
	var raw *rpcTransaction
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		raw = nil
		return c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", common.HexToHash(hash))
	})
	if err != nil {
		return Transaction{}, err
	}
	if raw == nil {
		return Transaction{}, fmt.Errorf("ledger: transaction %s: %w", hash, ErrNotFound)
	}

	tx := Transaction{
		Hash:  raw.Hash,
		From:  raw.From,
		To:    raw.To,
		Input: raw.Input,
	}
	if raw.BlockNumber != nil {
		n := (*big.Int)(raw.BlockNumber).Uint64()
		tx.BlockNumber = &n
	}
	return tx, nil
}

// TransactionReceipt fetches the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (Receipt, error) {
	var out Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
		if errors.Is(err, ethereum.NotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = Receipt{
			TxHash: r.TxHash,
			Status: r.Status,
			Logs:   r.Logs,
		}
		if r.BlockNumber != nil {
			out.BlockNumber = r.BlockNumber.Uint64()
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return out, nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.eth.BlockNumber(ctx)
		head = n
		return err
	})
	return head, err
}

// Ping checks that the node answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// call runs fn under the rate limiter with a per-attempt timeout, retrying
// transient failures a bounded number of times.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		err := fn(callCtx)
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "ledger: call failed, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	return nil
}
