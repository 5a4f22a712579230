package trader

import (
	"context"
	"time"
)

// State is the trade-lifecycle state for one coin.
type State string

const (
	StateFlat    State = "FLAT"
	StateEntered State = "ENTERED"
)

// Position is the open trade for one coin. Exclusively owned and mutated
// by that coin's controller; at most one open position per coin.
//
// AvgCostBasis is the size-weighted average entry price per unit; the
// total cost basis is AvgCostBasis * Quantity. The trailing fields follow
// the ratchet: Line never moves down while TrailingActive, and never sits
// below the base profit-margin line.
type Position struct {
	Coin          string      `json:"coin"`
	State         State       `json:"state"`
	EntryPrice    float64     `json:"entry_price"`
	EntryTime     time.Time   `json:"entry_time"`
	Quantity      float64     `json:"quantity"`
	AvgCostBasis  float64     `json:"avg_cost_basis"`
	DCACount      int         `json:"dca_count"`
	DCATimestamps []time.Time `json:"dca_timestamps"`

	TrailingActive bool    `json:"trailing_active"`
	TrailingPeak   float64 `json:"trailing_peak"`
	TrailingLine   float64 `json:"trailing_line"`
	WasAbove       bool    `json:"was_above"`
}

// Value returns the position's current worth at the given sell price.
func (p *Position) Value(sellPrice float64) float64 {
	return p.Quantity * sellPrice
}

// PnLPercent returns the gain/loss percentage of price against the
// average cost basis.
func (p *Position) PnLPercent(price float64) float64 {
	if p.AvgCostBasis <= 0 {
		return 0
	}
	return (price - p.AvgCostBasis) / p.AvgCostBasis * 100
}

// StateRepository persists open positions so a restart resumes mid-trade.
// Implementations must tolerate being nil-backed (memory only).
type StateRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	DeletePosition(ctx context.Context, coin string) error
	LoadPositions(ctx context.Context) ([]*Position, error)
}
