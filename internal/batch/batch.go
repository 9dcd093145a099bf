// Package batch renders liquidation batches into files a multisig operator
// can import.
package batch

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"irs-keeper/internal/chain"
	"irs-keeper/internal/liquidation"
)

// Format selects the artifact layout.
type Format string

const (
	FormatSafe Format = "safe"
	FormatJSON Format = "json"
)

//go:embed templates/safe.mustache.json
var defaultSafeTemplate string

// Options parameterise rendering.
type Options struct {
	Format       Format
	TemplatePath string
	ChainID      uint64
	SafeAddress  string
	Now          func() time.Time
}

// Calldata encodes liquidatePosition for a position key.
func Calldata(key liquidation.PositionKey) ([]byte, error) {
	return chain.MarginEngineABI().Pack("liquidatePosition",
		key.Owner, big.NewInt(int64(key.TickLower)), big.NewInt(int64(key.TickUpper)))
}

// Render produces the artifact bytes for batches.
func Render(batches []liquidation.LiquidationBatch, opts Options) ([]byte, error) {
	switch opts.Format {
	case FormatJSON:
		return renderJSON(batches)
	case FormatSafe, "":
		return renderSafe(batches, opts)
	default:
		return nil, fmt.Errorf("unknown batch format %q", opts.Format)
	}
}

// Write renders batches and replaces path with the result.
func Write(path string, batches []liquidation.LiquidationBatch, opts Options) error {
	if path == "" {
		return errors.New("batch output path is required")
	}
	payload, err := Render(batches, opts)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".batch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type poolLiquidations struct {
	MarginEngineAddress   common.Address            `json:"marginEngineAddress"`
	VammAddress           common.Address            `json:"vammAddress"`
	LiquidatablePositions []liquidation.PositionKey `json:"liquidatablePositions"`
}

func renderJSON(batches []liquidation.LiquidationBatch) ([]byte, error) {
	doc := struct {
		LiquidationsPerPool []poolLiquidations `json:"liquidationsPerPool"`
	}{LiquidationsPerPool: make([]poolLiquidations, 0, len(batches))}

	for _, b := range batches {
		doc.LiquidationsPerPool = append(doc.LiquidationsPerPool, poolLiquidations{
			MarginEngineAddress:   b.MarginEngine,
			VammAddress:           b.PriceCurve,
			LiquidatablePositions: b.Positions,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

func renderSafe(batches []liquidation.LiquidationBatch, opts Options) ([]byte, error) {
	source := defaultSafeTemplate
	if opts.TemplatePath != "" {
		raw, err := os.ReadFile(opts.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read batch template: %w", err)
		}
		source = string(raw)
	}
	tmpl, err := mustache.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parse batch template: %w", err)
	}

	var txs []map[string]interface{}
	engines := make([]string, 0, len(batches))
	for _, b := range batches {
		engines = append(engines, b.MarginEngine.Hex())
		for _, key := range b.Positions {
			data, err := Calldata(key)
			if err != nil {
				return nil, fmt.Errorf("encode liquidation of %s: %w", key.Owner.Hex(), err)
			}
			txs = append(txs, map[string]interface{}{
				"to":        b.MarginEngine.Hex(),
				"data":      hexutil.Encode(data),
				"owner":     key.Owner.Hex(),
				"tickLower": key.TickLower,
				"tickUpper": key.TickUpper,
				"last":      false,
			})
		}
	}
	if len(txs) > 0 {
		txs[len(txs)-1]["last"] = true
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	out, err := tmpl.Render(map[string]interface{}{
		"chainId":      strconv.FormatUint(opts.ChainID, 10),
		"createdAt":    now().UnixMilli(),
		"safeAddress":  opts.SafeAddress,
		"description":  fmt.Sprintf("%d liquidations across %s", len(txs), strings.Join(engines, " ")),
		"transactions": txs,
	})
	if err != nil {
		return nil, fmt.Errorf("render batch template: %w", err)
	}
	if !json.Valid([]byte(out)) {
		return nil, errors.New("batch template produced invalid JSON")
	}
	return []byte(out), nil
}
