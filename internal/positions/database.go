package positions

import (
	"context"

	"irs-keeper/internal/irs"
)

// Lister lists tracked positions for a network.
type Lister interface {
	ListPositions(ctx context.Context, network string) ([]irs.Position, error)
}

// Database reads positions from the positions table.
type Database struct {
	Store   Lister
	Network string
}

// Load implements Source.
func (d Database) Load(ctx context.Context) ([]irs.Position, error) {
	return d.Store.ListPositions(ctx, d.Network)
}

// Static serves a fixed position list.
type Static []irs.Position

// Load implements Source.
func (s Static) Load(context.Context) ([]irs.Position, error) {
	return s, nil
}
