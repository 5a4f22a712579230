package patterns

import (
	"errors"
	"fmt"

	"pattern-trading-bot/internal/market"
)

// UpdaterConfig tunes the online reliability reweighting.
type UpdaterConfig struct {
	// LearnRate scales how strongly a single candle close moves a weight.
	LearnRate float64 `json:"learn_rate"`
	// Tolerance is the prediction error (mean absolute ratio delta) at
	// which a pattern is neither reinforced nor decayed.
	Tolerance float64 `json:"tolerance"`
	// MinFactor/MaxFactor bound the per-close multiplicative adjustment.
	MinFactor float64 `json:"min_factor"`
	MaxFactor float64 `json:"max_factor"`
}

// DefaultUpdaterConfig returns the default reweighting parameters.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		LearnRate: 0.10,
		Tolerance: 0.02,
		MinFactor: 0.50,
		MaxFactor: 1.10,
	}
}

// Updater adjusts reliability weights after a timeframe's candle closes.
// It is the only mutator of pattern weights. Runs once per (coin,
// timeframe) close event; the store's per-partition lock serializes it
// against concurrent predictions.
type Updater struct {
	store *Store
	cfg   UpdaterConfig

	// OnUpdate, when set, is called after each weight change. Used for
	// write-behind persistence; must not block for long.
	OnUpdate func(coin string, tf market.Timeframe, id string, weight float64)
}

// NewUpdater creates a weight updater over the given store.
func NewUpdater(store *Store, cfg UpdaterConfig) *Updater {
	if cfg.LearnRate <= 0 {
		cfg = DefaultUpdaterConfig()
	}
	return &Updater{store: store, cfg: cfg}
}

// Reconcile compares the realized candle against every pattern that
// contributed to the prior prediction and adjusts its weight
// multiplicatively: accurate patterns are reinforced, inaccurate ones
// decayed. realized holds the closed candle's high/low as ratio deltas
// against the prediction's reference price. Unknown ids are reported but
// do not stop reconciliation of the rest.
func (u *Updater) Reconcile(coin string, tf market.Timeframe, contributing []string, realized Outcome) error {
	if realized.High < realized.Low {
		return fmt.Errorf("%w: realized high below low", ErrInvalidPattern)
	}

	var firstErr error
	for _, id := range contributing {
		sh := u.store.shard(coin, tf)
		sh.mu.Lock()
		e, ok := sh.byID[id]
		if !ok {
			sh.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			continue
		}

		errScore := outcomeError(e.outcome, realized)
		factor := u.factor(errScore)
		e.weight = clamp(e.weight*factor, u.store.floor, u.store.ceil)
		weight := e.weight
		sh.mu.Unlock()

		if u.OnUpdate != nil {
			u.OnUpdate(coin, tf, id, weight)
		}
	}
	return firstErr
}

// outcomeError is the mean absolute delta between a pattern's own outcome
// and the realized candle, both as ratios against the same reference.
func outcomeError(predicted, realized Outcome) float64 {
	dh := predicted.High - realized.High
	if dh < 0 {
		dh = -dh
	}
	dl := predicted.Low - realized.Low
	if dl < 0 {
		dl = -dl
	}
	return (dh + dl) / 2
}

// factor maps an error score to a multiplicative weight adjustment.
// Monotonically decreasing: factor(0) = 1+LearnRate, factor(Tolerance) = 1,
// larger errors decay toward MinFactor.
func (u *Updater) factor(errScore float64) float64 {
	f := 1 + u.cfg.LearnRate*(1-errScore/u.cfg.Tolerance)
	if f < u.cfg.MinFactor {
		return u.cfg.MinFactor
	}
	if f > u.cfg.MaxFactor {
		return u.cfg.MaxFactor
	}
	return f
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
