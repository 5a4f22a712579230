package patterns

import (
	"fmt"

	"pattern-trading-bot/internal/market"
)

// DefaultWindowSize is the number of closed candles per pattern window.
const DefaultWindowSize = 8

// featuresPerCandle: open, high, low, close deltas against the reference.
const featuresPerCandle = 4

// Extractor turns candle windows into feature vectors. Each candle in the
// window contributes its OHLC as ratio deltas against the close of the
// window's last candle, so the vector is scale-free.
type Extractor struct {
	window int
}

// NewExtractor creates an extractor for the given window size.
func NewExtractor(window int) *Extractor {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &Extractor{window: window}
}

// Window returns the window size in candles.
func (e *Extractor) Window() int {
	return e.window
}

// Dim returns the feature-vector length produced by this extractor.
func (e *Extractor) Dim() int {
	return e.window * featuresPerCandle
}

// FromCandles builds the query pattern for the most recent window of
// closed candles. candles must hold at least Window() entries; the last
// Window() are used.
func (e *Extractor) FromCandles(candles []market.Candle) (Pattern, error) {
	if len(candles) < e.window {
		return Pattern{}, fmt.Errorf("%w: need %d candles, got %d", ErrInvalidPattern, e.window, len(candles))
	}
	window := candles[len(candles)-e.window:]
	ref := window[len(window)-1].Close
	if ref <= 0 {
		return Pattern{}, fmt.Errorf("%w: non-positive reference close", ErrInvalidPattern)
	}

	features := make([]float64, 0, e.Dim())
	for _, c := range window {
		features = append(features,
			c.Open/ref-1,
			c.High/ref-1,
			c.Low/ref-1,
			c.Close/ref-1,
		)
	}

	first := window[0]
	return Pattern{
		Coin:      first.Coin,
		Timeframe: first.Timeframe,
		Features:  features,
		RefPrice:  ref,
	}, nil
}

// Sample is one training example: a pattern window plus the outcome of the
// candle that followed it.
type Sample struct {
	Pattern Pattern
	Outcome Outcome
}

// BuildTraining slides the window across a candle history and produces one
// sample per position that has a following candle. History shorter than
// window+1 yields no samples.
func (e *Extractor) BuildTraining(candles []market.Candle) ([]Sample, error) {
	if len(candles) < e.window+1 {
		return nil, nil
	}

	samples := make([]Sample, 0, len(candles)-e.window)
	for i := 0; i+e.window < len(candles); i++ {
		window := candles[i : i+e.window]
		next := candles[i+e.window]

		p, err := e.FromCandles(window)
		if err != nil {
			return nil, err
		}
		if next.High < next.Low {
			return nil, fmt.Errorf("%w: candle at %s has high below low", ErrInvalidPattern, next.OpenTime)
		}
		samples = append(samples, Sample{
			Pattern: p,
			Outcome: Outcome{
				High: next.High/p.RefPrice - 1,
				Low:  next.Low/p.RefPrice - 1,
			},
		})
	}
	return samples, nil
}
