package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"irs-keeper/internal/irs"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// transact signs and submits a dynamic fee transaction calling to with data.
func (c *Client) transact(ctx context.Context, to common.Address, data []byte) (irs.PendingTx, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	c.sendMux.Lock()
	defer c.sendMux.Unlock()

	chainID, err := c.resolveChainID(ctx, backend)
	if err != nil {
		return nil, err
	}

	nonce, err := backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas := c.opts.GasLimit
	if gas == 0 {
		estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = uint64(float64(estimate) * c.opts.GasLimitMultiplier)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("tx", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("transaction submitted")

	return &pendingTx{backend: backend, tx: signed, poll: c.opts.ReceiptPollInterval, logger: c.logger}, nil
}

type pendingTx struct {
	backend Backend
	tx      *types.Transaction
	poll    time.Duration
	logger  zerolog.Logger
}

func (p *pendingTx) Hash() common.Hash {
	return p.tx.Hash()
}

// Wait polls for the receipt until it is mined or ctx ends. Receipt lookup
// errors other than not-found are logged and polled through.
func (p *pendingTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, p.tx.Hash())
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w in block %s", ErrReverted, receipt.BlockNumber)
			}
			p.logger.Debug().Str("tx", p.tx.Hash().Hex()).Str("block", receipt.BlockNumber.String()).Msg("transaction mined")
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			p.logger.Debug().Err(err).Str("tx", p.tx.Hash().Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ irs.PendingTx = (*pendingTx)(nil)
