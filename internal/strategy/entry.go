package strategy

import (
	"context"
	"fmt"
	"sort"

	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/signal"
)

// Mode selects how indicator conditions combine.
type Mode string

const (
	// ModeSelector requires every enabled indicator condition to pass.
	ModeSelector Mode = "selector"
	// ModeSuper averages indicator scores and passes on a threshold.
	ModeSuper Mode = "super"
)

// minCandlesForIndicators is the history floor below which indicator
// checks are skipped and the level gate decides alone.
const minCandlesForIndicators = 30

// Config controls the confirmation layer on top of the prediction levels.
type Config struct {
	Mode Mode `json:"mode"`
	// Indicators maps indicator name to enabled. Unknown names never pass.
	Indicators map[string]bool `json:"indicators"`
	// ReplaceNeural drops the level gate entirely and lets the indicators
	// decide alone.
	ReplaceNeural bool `json:"replace_neural"`
	// SuperThreshold is the minimum average score in super mode.
	SuperThreshold float64 `json:"super_threshold"`
	// MinLongLevel is the level-gate floor for entry.
	MinLongLevel int `json:"min_long_level"`
	// Timeframe and CandleLimit shape the indicator candle fetch.
	Timeframe   market.Timeframe `json:"timeframe"`
	CandleLimit int              `json:"candle_limit"`
}

// DefaultConfig is the stock level gate with no indicator confirmation.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeSelector,
		Indicators:     map[string]bool{},
		SuperThreshold: 0.6,
		MinLongLevel:   3,
		Timeframe:      market.Timeframe1h,
		CandleLimit:    120,
	}
}

// Policy gates trade entry on the prediction levels, optionally confirmed
// or replaced by classic technical indicators computed over recent
// candles.
type Policy struct {
	cfg    Config
	client exchange.Client
	logger *logging.Logger
}

// NewPolicy creates the entry policy. client may be nil only when no
// indicators are enabled.
func NewPolicy(cfg Config, client exchange.Client, logger *logging.Logger) *Policy {
	if cfg.SuperThreshold <= 0 {
		cfg.SuperThreshold = 0.6
	}
	if cfg.MinLongLevel <= 0 {
		cfg.MinLongLevel = 3
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 120
	}
	if !cfg.Timeframe.Valid() {
		cfg.Timeframe = market.Timeframe1h
	}
	return &Policy{cfg: cfg, client: client, logger: logger.Component("strategy")}
}

// ShouldEnter reports whether the coin may open a trade given the current
// signal levels.
func (p *Policy) ShouldEnter(ctx context.Context, coin string, lv signal.Levels) (bool, error) {
	levelOK := lv.LongLevel >= p.cfg.MinLongLevel && lv.ShortLevel == 0
	levelScore := 0.0
	if lv.ShortLevel == 0 {
		n := lv.LongLevel
		if n > 7 {
			n = 7
		}
		if n < 0 {
			n = 0
		}
		levelScore = float64(n) / 7.0
	}

	enabled := p.enabledIndicators()
	if len(enabled) == 0 {
		if p.cfg.ReplaceNeural {
			return false, nil
		}
		return levelOK, nil
	}

	series, err := p.fetchSeries(ctx, coin)
	if err != nil {
		return false, fmt.Errorf("fetch strategy candles for %s: %w", coin, err)
	}
	if len(series.Closes) < minCandlesForIndicators {
		if p.cfg.ReplaceNeural {
			return false, nil
		}
		return levelOK, nil
	}

	conditions := make([]bool, 0, len(enabled))
	scores := make([]float64, 0, len(enabled)+1)
	for _, name := range enabled {
		ok, score := conditionScore(name, series)
		conditions = append(conditions, ok)
		scores = append(scores, score)
	}

	switch p.cfg.Mode {
	case ModeSuper:
		if !p.cfg.ReplaceNeural {
			scores = append(scores, levelScore)
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		avg := sum / float64(len(scores))
		pass := avg >= p.cfg.SuperThreshold
		p.logger.Debug("super-mode score", "coin", coin, "score", avg, "pass", pass)
		return pass, nil
	default:
		allOK := true
		for _, ok := range conditions {
			if !ok {
				allOK = false
				break
			}
		}
		if p.cfg.ReplaceNeural {
			return allOK, nil
		}
		return levelOK && allOK, nil
	}
}

func (p *Policy) enabledIndicators() []string {
	names := make([]string, 0, len(p.cfg.Indicators))
	for name, on := range p.cfg.Indicators {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p *Policy) fetchSeries(ctx context.Context, coin string) (Series, error) {
	candles, err := p.client.GetCandles(ctx, coin, p.cfg.Timeframe, p.cfg.CandleLimit)
	if err != nil {
		return Series{}, err
	}
	s := Series{
		Closes:  make([]float64, 0, len(candles)),
		Highs:   make([]float64, 0, len(candles)),
		Lows:    make([]float64, 0, len(candles)),
		Volumes: make([]float64, 0, len(candles)),
	}
	for _, c := range candles {
		s.Closes = append(s.Closes, c.Close)
		s.Highs = append(s.Highs, c.High)
		s.Lows = append(s.Lows, c.Low)
		s.Volumes = append(s.Volumes, c.Volume)
	}
	return s, nil
}

// conditionScore evaluates one named indicator as an entry condition.
// Each returns a pass flag plus a score in [0,1] for super mode.
func conditionScore(name string, s Series) (bool, float64) {
	price := 0.0
	if len(s.Closes) > 0 {
		price = s.Closes[len(s.Closes)-1]
	}

	switch name {
	case "rsi":
		val, ok := RSI(s.Closes, 14)
		pass := ok && val < 30
		return pass, boolScore(pass)

	case "macd":
		// Bullish cross: MACD line moves above the signal line between
		// the previous and current candle.
		macdVals, signalVals := macdSeries(s.Closes, 12, 26, 9)
		if len(macdVals) < 2 || len(signalVals) < 2 {
			return false, 0
		}
		prevBelow := macdVals[len(macdVals)-2] <= signalVals[len(signalVals)-2]
		nowAbove := macdVals[len(macdVals)-1] > signalVals[len(signalVals)-1]
		pass := prevBelow && nowAbove
		return pass, boolScore(pass)

	case "stochastic":
		k, d, ok := Stochastic(s.Highs, s.Lows, s.Closes, 14, 3)
		if !ok || len(s.Closes) < 2 {
			return false, 0
		}
		kPrev, dPrev, okPrev := Stochastic(
			s.Highs[:len(s.Highs)-1], s.Lows[:len(s.Lows)-1], s.Closes[:len(s.Closes)-1], 14, 3)
		if !okPrev {
			return false, 0
		}
		pass := k < 20 && kPrev <= dPrev && k > d
		return pass, boolScore(pass)

	case "momentum":
		val, ok := Momentum(s.Closes, 10)
		pass := ok && val > 0
		return pass, boolScore(pass)

	case "obv":
		if len(s.Closes) < 3 || len(s.Volumes) < 3 {
			return false, 0
		}
		now, _ := OBV(s.Closes, s.Volumes)
		prev, _ := OBV(s.Closes[:len(s.Closes)-1], s.Volumes[:len(s.Volumes)-1])
		pass := now > prev
		return pass, boolScore(pass)

	case "bollinger":
		_, _, lower, ok := BollingerBands(s.Closes, 20, 2.0)
		pass := ok && price <= lower
		return pass, boolScore(pass)

	case "ema":
		emaSlow, okSlow := EMA(s.Closes, 21)
		if !okSlow {
			return false, 0
		}
		emaFast, okFast := EMA(s.Closes, 8)
		pass := (okFast && emaFast > emaSlow) || price > emaSlow
		return pass, boolScore(pass)

	case "atr":
		// ATR carries no direction; it contributes a neutral score and
		// never blocks selector mode.
		_, ok := ATR(s.Highs, s.Lows, s.Closes, 14)
		if ok {
			return true, 0.5
		}
		return true, 0

	case "volume_profile":
		ratio, ok := VolumeRatio(s.Volumes, 20)
		pass := ok && ratio > 1.0
		return pass, boolScore(pass)

	case "adx":
		val, ok := ADX(s.Highs, s.Lows, s.Closes, 14)
		pass := ok && val > 20
		return pass, boolScore(pass)

	case "pivots":
		piv, ok := Pivots(s.Highs, s.Lows, s.Closes)
		if !ok || piv.S1 == 0 {
			return false, 0
		}
		pass := price >= piv.S1*0.99 && price <= piv.S1*1.01
		return pass, boolScore(pass)

	case "ichimoku":
		ichi, ok := Ichimoku(s.Highs, s.Lows)
		if !ok {
			return false, 0
		}
		cloudTop := ichi.SenkouA
		if ichi.SenkouB > cloudTop {
			cloudTop = ichi.SenkouB
		}
		pass := price > cloudTop && ichi.Tenkan > ichi.Kijun
		return pass, boolScore(pass)
	}
	return false, 0
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0
}
