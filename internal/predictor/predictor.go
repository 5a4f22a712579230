package predictor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/patterns"
)

// PredictedCandle is the predicted (high, low) band for the in-progress
// candle of one timeframe. Recomputed every evaluation cycle; regenerable
// from the store plus the current pattern, so it is never persisted as
// authoritative state.
type PredictedCandle struct {
	Coin            string           `json:"coin"`
	Timeframe       market.Timeframe `json:"timeframe"`
	PredictedHigh   float64          `json:"predicted_high"`
	PredictedLow    float64          `json:"predicted_low"`
	RefPrice        float64          `json:"ref_price"`
	ContributingIDs []string         `json:"contributing_ids"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// Config holds predictor tuning.
type Config struct {
	// KNeighbors restricts the estimate to the k nearest stored patterns.
	// Zero means all stored patterns contribute (Nadaraya-Watson).
	KNeighbors int `json:"k_neighbors"`
	// Epsilon stabilizes the inverse-distance kernel near zero distance.
	Epsilon float64 `json:"epsilon"`
}

// DefaultConfig returns the default predictor tuning.
func DefaultConfig() Config {
	return Config{KNeighbors: 0, Epsilon: 1e-6}
}

// Predictor computes weighted-average predicted candles from the pattern
// store. Read-only against the store, so per-timeframe predictions may run
// in parallel.
type Predictor struct {
	store *patterns.Store
	cfg   Config
}

// New creates a predictor over the given store.
func New(store *patterns.Store, cfg Config) *Predictor {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultConfig().Epsilon
	}
	return &Predictor{store: store, cfg: cfg}
}

// Predict computes the contribution-weighted average of stored outcomes
// for the current pattern. The contribution of a stored pattern is
// kernel(distance) * reliability weight, with an inverse-distance kernel.
// Returns patterns.ErrNoData when the (coin, timeframe) pair is untrained
// (the caller must treat that timeframe as INACTIVE) and
// patterns.ErrInvalidPattern on a dimensionality mismatch.
func (p *Predictor) Predict(coin string, tf market.Timeframe, current patterns.Pattern) (*PredictedCandle, error) {
	if len(current.Features) != p.store.Dim() {
		return nil, fmt.Errorf("%w: got %d features, store dim is %d",
			patterns.ErrInvalidPattern, len(current.Features), p.store.Dim())
	}
	if current.RefPrice <= 0 {
		return nil, fmt.Errorf("%w: non-positive reference price", patterns.ErrInvalidPattern)
	}

	stored := p.store.Query(coin, tf)
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: %s %s", patterns.ErrNoData, coin, tf)
	}

	type scored struct {
		idx          int
		distance     float64
		contribution float64
	}
	candidates := make([]scored, 0, len(stored))
	for i, st := range stored {
		d := euclidean(current.Features, st.Pattern.Features)
		kernel := 1 / (d + p.cfg.Epsilon)
		candidates = append(candidates, scored{
			idx:          i,
			distance:     d,
			contribution: kernel * st.Weight,
		})
	}

	if k := p.cfg.KNeighbors; k > 0 && k < len(candidates) {
		sort.Slice(candidates, func(a, b int) bool {
			return candidates[a].distance < candidates[b].distance
		})
		candidates = candidates[:k]
	}

	var sumC, sumHigh, sumLow float64
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		st := stored[c.idx]
		sumC += c.contribution
		sumHigh += c.contribution * st.Outcome.High
		sumLow += c.contribution * st.Outcome.Low
		ids = append(ids, st.Pattern.ID)
	}
	if sumC <= 0 {
		return nil, fmt.Errorf("%w: degenerate contribution mass for %s %s", patterns.ErrNoData, coin, tf)
	}

	highRatio := sumHigh / sumC
	lowRatio := sumLow / sumC

	return &PredictedCandle{
		Coin:            coin,
		Timeframe:       tf,
		PredictedHigh:   current.RefPrice * (1 + highRatio),
		PredictedLow:    current.RefPrice * (1 + lowRatio),
		RefPrice:        current.RefPrice,
		ContributingIDs: ids,
		ComputedAt:      time.Now().UTC(),
	}, nil
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
