package market

import (
	"fmt"
	"time"
)

// Timeframe represents a candle duration tracked by the predictor.
type Timeframe string

const (
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe3d  Timeframe = "3d"
	Timeframe1w  Timeframe = "1w"
)

// AllTimeframes returns the full timeframe set, shortest first.
// The signal engine counts breached bounds across this set, so its
// length is the maximum long/short level.
func AllTimeframes() []Timeframe {
	return []Timeframe{
		Timeframe1h,
		Timeframe2h,
		Timeframe4h,
		Timeframe12h,
		Timeframe1d,
		Timeframe3d,
		Timeframe1w,
	}
}

// Duration returns the candle duration for the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1h:
		return time.Hour
	case Timeframe2h:
		return 2 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe12h:
		return 12 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe3d:
		return 72 * time.Hour
	case Timeframe1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether tf is one of the tracked timeframes.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// ParseTimeframe converts a string like "4h" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Candle is an OHLCV summary for one time bucket of one timeframe.
// Immutable once closed.
type Candle struct {
	Coin      string    `json:"coin"`
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
}

// Quote is a live ask/bid snapshot for one coin.
type Quote struct {
	Coin string    `json:"coin"`
	Ask  float64   `json:"ask"`
	Bid  float64   `json:"bid"`
	Ts   time.Time `json:"ts"`
}
