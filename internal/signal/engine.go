// Package signal derives long/short levels per coin by comparing the live
// ask/bid against each timeframe's predicted candle bounds.
package signal

import (
	"time"

	"pattern-trading-bot/internal/predictor"
)

// Levels is the per-coin signal snapshot for one evaluation cycle.
// LongLevel counts timeframes whose predicted low is undercut by the live
// ask; ShortLevel counts timeframes whose predicted high is exceeded by
// the live bid. INACTIVE (untrained) timeframes count toward neither the
// levels nor ActiveTimeframes.
type Levels struct {
	Coin             string    `json:"coin"`
	LongLevel        int       `json:"long_level"`
	ShortLevel       int       `json:"short_level"`
	ActiveTimeframes int       `json:"active_timeframes"`
	Ask              float64   `json:"ask"`
	Bid              float64   `json:"bid"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Evaluate is a pure function of the current inputs. A nil entry in preds
// marks an INACTIVE timeframe.
func Evaluate(coin string, ask, bid float64, preds []*predictor.PredictedCandle) Levels {
	lv := Levels{
		Coin:       coin,
		Ask:        ask,
		Bid:        bid,
		ComputedAt: time.Now().UTC(),
	}

	for _, pc := range preds {
		if pc == nil {
			continue
		}
		lv.ActiveTimeframes++
		if ask < pc.PredictedLow {
			lv.LongLevel++
		}
		if bid > pc.PredictedHigh {
			lv.ShortLevel++
		}
	}
	return lv
}
