// Package positions supplies the candidate positions a liquidation scan
// assesses.
package positions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/irs"
	"irs-keeper/internal/liquidation"
)

// Source loads candidate positions.
type Source interface {
	Load(ctx context.Context) ([]irs.Position, error)
}

// Load reads src and drops repeated positions.
func Load(ctx context.Context, src Source) ([]irs.Position, error) {
	loaded, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return liquidation.Dedupe(loaded), nil
}

// record is the serialised form shared by the file formats.
type record struct {
	Owner        string `json:"owner"`
	MarginEngine string `json:"marginEngine"`
	TickLower    int32  `json:"tickLower"`
	TickUpper    int32  `json:"tickUpper"`
}

func (r record) position() (irs.Position, error) {
	owner, err := parseAddress("owner", r.Owner)
	if err != nil {
		return irs.Position{}, err
	}
	engine, err := parseAddress("marginEngine", r.MarginEngine)
	if err != nil {
		return irs.Position{}, err
	}
	if r.TickLower >= r.TickUpper {
		return irs.Position{}, fmt.Errorf("tickLower %d must be below tickUpper %d", r.TickLower, r.TickUpper)
	}
	return irs.Position{Owner: owner, MarginEngine: engine, TickLower: r.TickLower, TickUpper: r.TickUpper}, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseTick(field, raw string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return int32(v), nil
}
