package strategy

import "math"

// Series is the per-field view of a candle history that the indicator
// functions operate on. Oldest first.
type Series struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// SMA returns the simple moving average of the last period values, or
// false when there is not enough data.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) (float64, bool) {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI returns the relative strength index over the trailing period.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses += -diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// MACD returns the MACD line, signal line and histogram for the standard
// 12/26/9 setup.
func MACD(closes []float64, fast, slow, signal int) (macdLine, signalLine, hist float64, ok bool) {
	macdVals, signalVals := macdSeries(closes, fast, slow, signal)
	if len(macdVals) == 0 || len(signalVals) == 0 {
		return 0, 0, 0, false
	}
	macdLine = macdVals[len(macdVals)-1]
	signalLine = signalVals[len(signalVals)-1]
	return macdLine, signalLine, macdLine - signalLine, true
}

// Stochastic returns %K and %D over kPeriod/dPeriod.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64, ok bool) {
	if len(closes) < kPeriod || len(highs) < kPeriod || len(lows) < kPeriod {
		return 0, 0, false
	}
	k = stochasticK(highs, lows, closes, kPeriod)

	kSeries := make([]float64, 0, kPeriod)
	for i := len(closes) - kPeriod; i < len(closes); i++ {
		kSeries = append(kSeries, stochasticK(highs[:i+1], lows[:i+1], closes[:i+1], kPeriod))
	}
	d, _ = SMA(kSeries, dPeriod)
	return k, d, true
}

func stochasticK(highs, lows, closes []float64, period int) float64 {
	start := len(closes) - period
	if start < 0 {
		start = 0
	}
	hi := highs[start]
	lo := lows[start]
	for i := start; i < len(closes); i++ {
		if highs[i] > hi {
			hi = highs[i]
		}
		if lows[i] < lo {
			lo = lows[i]
		}
	}
	if hi == lo {
		return 50
	}
	return (closes[len(closes)-1] - lo) / (hi - lo) * 100
}

// Momentum returns the close-to-close change over period candles.
func Momentum(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	return closes[len(closes)-1] - closes[len(closes)-1-period], true
}

// OBV returns on-balance volume accumulated over the whole series.
func OBV(closes, volumes []float64) (float64, bool) {
	if len(closes) < 2 || len(volumes) < 2 {
		return 0, false
	}
	n := len(closes)
	if len(volumes) < n {
		n = len(volumes)
	}
	obv := 0.0
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
	}
	return obv, true
}

// BollingerBands returns the upper, middle and lower bands.
func BollingerBands(closes []float64, period int, stdMult float64) (upper, mid, lower float64, ok bool) {
	if len(closes) < period {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(period))
	return mean + stdMult*std, mean, mean - stdMult*std, true
}

// ATR returns the average true range over the trailing period.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 || len(highs) < period+1 || len(lows) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tr := math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		sum += tr
	}
	return sum / float64(period), true
}

// VolumeRatio returns the last volume relative to its period average.
func VolumeRatio(volumes []float64, period int) (float64, bool) {
	avg, ok := SMA(volumes, period)
	if !ok {
		return 0, false
	}
	if avg == 0 {
		return 0, true
	}
	return volumes[len(volumes)-1] / avg, true
}

// ADX returns a single-pass directional index over the trailing period.
func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var plusDM, minusDM, trSum float64
	for i := len(closes) - period; i < len(closes); i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM += upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM += downMove
		}
		trSum += math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	if trSum == 0 {
		return 0, true
	}
	plusDI := 100 * (plusDM / trSum)
	minusDI := 100 * (minusDM / trSum)
	denom := plusDI + minusDI
	if denom == 0 {
		return 0, true
	}
	return math.Abs(plusDI-minusDI) / denom * 100, true
}

// PivotLevels holds classic floor-trader pivots built from the last candle.
type PivotLevels struct {
	Pivot float64
	R1    float64
	S1    float64
	R2    float64
	S2    float64
}

// Pivots computes pivot levels from the most recent candle.
func Pivots(highs, lows, closes []float64) (PivotLevels, bool) {
	if len(highs) == 0 || len(lows) == 0 || len(closes) == 0 {
		return PivotLevels{}, false
	}
	h := highs[len(highs)-1]
	l := lows[len(lows)-1]
	c := closes[len(closes)-1]
	p := (h + l + c) / 3
	return PivotLevels{
		Pivot: p,
		R1:    2*p - l,
		S1:    2*p - h,
		R2:    p + (h - l),
		S2:    p - (h - l),
	}, true
}

// IchimokuLines holds the tenkan/kijun conversion lines and the cloud
// boundaries (displacement ignored).
type IchimokuLines struct {
	Tenkan  float64
	Kijun   float64
	SenkouA float64
	SenkouB float64
}

// Ichimoku computes the ichimoku lines over the standard 9/26/52 windows.
func Ichimoku(highs, lows []float64) (IchimokuLines, bool) {
	if len(highs) < 52 || len(lows) < 52 {
		return IchimokuLines{}, false
	}
	tenkan := midpoint(highs, lows, 9)
	kijun := midpoint(highs, lows, 26)
	return IchimokuLines{
		Tenkan:  tenkan,
		Kijun:   kijun,
		SenkouA: (tenkan + kijun) / 2,
		SenkouB: midpoint(highs, lows, 52),
	}, true
}

func midpoint(highs, lows []float64, period int) float64 {
	hi := highs[len(highs)-period]
	for _, v := range highs[len(highs)-period:] {
		if v > hi {
			hi = v
		}
	}
	lo := lows[len(lows)-period]
	for _, v := range lows[len(lows)-period:] {
		if v < lo {
			lo = v
		}
	}
	return (hi + lo) / 2
}

func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}
	ema /= float64(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

func macdSeries(closes []float64, fast, slow, signal int) (macdVals, signalVals []float64) {
	if len(closes) < slow {
		return nil, nil
	}
	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)
	if len(fastSeries) == 0 || len(slowSeries) == 0 {
		return nil, nil
	}
	fastSeries = fastSeries[len(fastSeries)-len(slowSeries):]
	macdVals = make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdVals[i] = fastSeries[i] - slowSeries[i]
	}
	return macdVals, emaSeries(macdVals, signal)
}
