package strategy

import (
	"math"
	"testing"
)

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSMA(t *testing.T) {
	if _, ok := SMA([]float64{1, 2}, 3); ok {
		t.Error("SMA with short input should report not ok")
	}
	got, ok := SMA([]float64{1, 2, 3, 4}, 2)
	if !ok || got != 3.5 {
		t.Errorf("SMA = %v, %v; want 3.5, true", got, ok)
	}
}

func TestEMAConvergesToConstant(t *testing.T) {
	got, ok := EMA(flat(42, 50), 10)
	if !ok || math.Abs(got-42) > 1e-9 {
		t.Errorf("EMA of constant series = %v, want 42", got)
	}
}

func TestRSIExtremes(t *testing.T) {
	up, ok := RSI(ramp(100, 1, 20), 14)
	if !ok || up != 100 {
		t.Errorf("RSI of pure uptrend = %v, want 100", up)
	}
	down, ok := RSI(ramp(100, -1, 20), 14)
	if !ok || down != 0 {
		t.Errorf("RSI of pure downtrend = %v, want 0", down)
	}
	if _, ok := RSI(flat(1, 5), 14); ok {
		t.Error("RSI with short input should report not ok")
	}
}

func TestMACDUptrendPositive(t *testing.T) {
	macdLine, _, _, ok := MACD(ramp(100, 1, 60), 12, 26, 9)
	if !ok {
		t.Fatal("MACD not ok with 60 candles")
	}
	if macdLine <= 0 {
		t.Errorf("MACD line in steady uptrend = %v, want positive", macdLine)
	}
}

func TestStochasticBounds(t *testing.T) {
	highs := ramp(101, 1, 30)
	lows := ramp(99, 1, 30)
	closes := ramp(100, 1, 30)
	k, d, ok := Stochastic(highs, lows, closes, 14, 3)
	if !ok {
		t.Fatal("Stochastic not ok")
	}
	if k < 0 || k > 100 || d < 0 || d > 100 {
		t.Errorf("stochastic out of bounds: k=%v d=%v", k, d)
	}
	// Close rides the top of the range in a steady uptrend.
	if k < 50 {
		t.Errorf("k = %v in an uptrend, want upper half", k)
	}
}

func TestMomentum(t *testing.T) {
	got, ok := Momentum(ramp(100, 2, 15), 10)
	if !ok || got != 20 {
		t.Errorf("Momentum = %v, want 20", got)
	}
}

func TestOBVDirection(t *testing.T) {
	up, ok := OBV([]float64{1, 2, 3}, []float64{10, 10, 10})
	if !ok || up != 20 {
		t.Errorf("OBV rising closes = %v, want 20", up)
	}
	down, _ := OBV([]float64{3, 2, 1}, []float64{10, 10, 10})
	if down != -20 {
		t.Errorf("OBV falling closes = %v, want -20", down)
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	upper, mid, lower, ok := BollingerBands(flat(50, 25), 20, 2.0)
	if !ok {
		t.Fatal("Bollinger not ok")
	}
	if upper != 50 || mid != 50 || lower != 50 {
		t.Errorf("flat series bands = %v/%v/%v, want all 50", upper, mid, lower)
	}
}

func TestATRPositive(t *testing.T) {
	highs := ramp(102, 1, 20)
	lows := ramp(98, 1, 20)
	closes := ramp(100, 1, 20)
	got, ok := ATR(highs, lows, closes, 14)
	if !ok || got <= 0 {
		t.Errorf("ATR = %v, want positive", got)
	}
}

func TestVolumeRatio(t *testing.T) {
	volumes := flat(100, 20)
	volumes[len(volumes)-1] = 200
	got, ok := VolumeRatio(volumes, 20)
	if !ok {
		t.Fatal("VolumeRatio not ok")
	}
	want := 200.0 / 105.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want %v", got, want)
	}
}

func TestADXTrendingHigh(t *testing.T) {
	highs := ramp(102, 2, 20)
	lows := ramp(98, 2, 20)
	closes := ramp(100, 2, 20)
	got, ok := ADX(highs, lows, closes, 14)
	if !ok {
		t.Fatal("ADX not ok")
	}
	if got < 50 {
		t.Errorf("ADX in a one-way trend = %v, want high", got)
	}
}

func TestPivots(t *testing.T) {
	piv, ok := Pivots([]float64{110}, []float64{90}, []float64{100})
	if !ok {
		t.Fatal("Pivots not ok")
	}
	if piv.Pivot != 100 {
		t.Errorf("pivot = %v, want 100", piv.Pivot)
	}
	if piv.R1 != 110 || piv.S1 != 90 {
		t.Errorf("r1/s1 = %v/%v, want 110/90", piv.R1, piv.S1)
	}
}

func TestIchimokuNeedsHistory(t *testing.T) {
	if _, ok := Ichimoku(flat(1, 51), flat(1, 51)); ok {
		t.Error("Ichimoku with 51 candles should report not ok")
	}
	lines, ok := Ichimoku(flat(110, 52), flat(90, 52))
	if !ok {
		t.Fatal("Ichimoku not ok with 52 candles")
	}
	if lines.Tenkan != 100 || lines.Kijun != 100 || lines.SenkouB != 100 {
		t.Errorf("flat-range lines = %+v, want all midpoints at 100", lines)
	}
}
