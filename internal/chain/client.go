package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ErrNoSigner is returned by writes when no private key is configured.
var ErrNoSigner = errors.New("chain: no signer key configured")

// Backend is the JSON-RPC surface used by the adapters. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options parameterise the chain client.
type Options struct {
	RPCURL              string
	ChainID             uint64
	PrivateKey          string
	GasLimit            uint64
	GasLimitMultiplier  float64
	ReceiptPollInterval time.Duration
}

// Client gives typed access to the keeper's contracts over one RPC endpoint.
type Client struct {
	opts   Options
	logger zerolog.Logger

	backend   Backend
	closer    func()
	clientMux sync.Mutex

	key  *ecdsa.PrivateKey
	from common.Address

	// sendMux keeps nonce assignment and submission atomic per sender.
	sendMux sync.Mutex
	chainID *big.Int
}

// NewClient builds a client that dials opts.RPCURL on first use.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	c := &Client{opts: withDefaults(opts), logger: logger.With().Str("component", "chain").Logger()}
	if err := c.loadKey(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientWithBackend builds a client over an existing backend.
func NewClientWithBackend(backend Backend, opts Options, logger zerolog.Logger) (*Client, error) {
	c, err := NewClient(opts, logger)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	return c, nil
}

func withDefaults(opts Options) Options {
	if opts.ReceiptPollInterval <= 0 {
		opts.ReceiptPollInterval = 2 * time.Second
	}
	if opts.GasLimitMultiplier <= 0 {
		opts.GasLimitMultiplier = 1.2
	}
	return opts
}

func (c *Client) loadKey() error {
	raw := strings.TrimPrefix(strings.TrimSpace(c.opts.PrivateKey), "0x")
	if raw == "" {
		return nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}
	c.key = key
	c.from = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

// Sender returns the signer address, or the zero address when read-only.
func (c *Client) Sender() common.Address {
	return c.from
}

// Close releases the RPC connection if one was dialled.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.closer != nil {
		c.closer()
		c.closer = nil
		c.backend = nil
	}
}

func (c *Client) getBackend(ctx context.Context) (Backend, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.backend != nil {
		return c.backend, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.backend = client
	c.closer = client.Close
	return client, nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return 0, err
	}
	return backend.BlockNumber(ctx)
}

// BlockTime returns the timestamp of a block.
func (c *Client) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return 0, err
	}
	header, err := backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// TokenDecimals reads decimals() of an ERC-20 token.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	outputs, err := c.call(ctx, erc20ABI, token, nil, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return int32(decimals), nil
}

// call packs, executes, and unpacks a read-only contract call at block
// (nil for latest).
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: payload}, block)
	if err != nil {
		return nil, err
	}

	outputs, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != len(contract.Methods[method].Outputs) {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return outputs, nil
}

func (c *Client) resolveChainID(ctx context.Context, backend Backend) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	if c.opts.ChainID != 0 {
		c.chainID = new(big.Int).SetUint64(c.opts.ChainID)
		return c.chainID, nil
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}
