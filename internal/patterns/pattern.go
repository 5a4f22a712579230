package patterns

import "pattern-trading-bot/internal/market"

// Pattern is a fixed-length feature vector derived from a window of closed
// candles on one timeframe. Features are scale-free ratios against the
// window's last close, so patterns from different price regimes remain
// comparable. Immutable after creation.
type Pattern struct {
	ID        string           `json:"id"`
	Coin      string           `json:"coin"`
	Timeframe market.Timeframe `json:"timeframe"`
	Features  []float64        `json:"features"`

	// RefPrice is the close of the window's last candle. Outcomes are
	// stored relative to it and predictions denormalize against the live
	// reference.
	RefPrice float64 `json:"ref_price"`
}

// Outcome holds the high/low of the candle that followed a pattern's
// window, expressed as ratio deltas against the pattern's reference price
// (0.02 means 2% above the reference close).
type Outcome struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// Stored is one (Pattern, Outcome, Weight) triple as returned by Query.
// It is a snapshot: mutating it does not affect the store.
type Stored struct {
	Pattern Pattern
	Outcome Outcome
	Weight  float64
}
