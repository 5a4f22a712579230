package patterns

import (
	"math"
	"testing"
	"time"

	"pattern-trading-bot/internal/market"
)

func makeCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = market.Candle{
			Coin:      "BTC",
			Timeframe: market.Timeframe1h,
			Open:      c * 0.99,
			High:      c * 1.01,
			Low:       c * 0.98,
			Close:     c,
			Volume:    10,
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFromCandlesScaleFree(t *testing.T) {
	e := NewExtractor(8)

	small := makeCandles(1, 2, 3, 4, 5, 6, 7, 8)
	big := makeCandles(1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000)

	ps, err := e.FromCandles(small)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := e.FromCandles(big)
	if err != nil {
		t.Fatal(err)
	}

	if len(ps.Features) != e.Dim() {
		t.Fatalf("feature length = %d, want %d", len(ps.Features), e.Dim())
	}
	for i := range ps.Features {
		if !almostEqual(ps.Features[i], pb.Features[i]) {
			t.Fatalf("feature %d differs across scales: %v vs %v", i, ps.Features[i], pb.Features[i])
		}
	}
	if ps.RefPrice != 8 || pb.RefPrice != 8000 {
		t.Errorf("ref prices = %v, %v; want 8, 8000", ps.RefPrice, pb.RefPrice)
	}
}

func TestFromCandlesUsesLastWindow(t *testing.T) {
	e := NewExtractor(8)
	candles := makeCandles(1, 1, 1, 100, 100, 100, 100, 100, 100, 100, 100)

	p, err := e.FromCandles(candles)
	if err != nil {
		t.Fatal(err)
	}
	// All candles in the trailing window close at 100, so every close
	// delta is zero.
	for i := 3; i < len(p.Features); i += 4 {
		if !almostEqual(p.Features[i], 0) {
			t.Fatalf("close delta at %d = %v, want 0", i, p.Features[i])
		}
	}
}

func TestFromCandlesTooShort(t *testing.T) {
	e := NewExtractor(8)
	if _, err := e.FromCandles(makeCandles(1, 2, 3)); err == nil {
		t.Fatal("expected error for short history")
	}
}

func TestBuildTrainingOutcomes(t *testing.T) {
	e := NewExtractor(8)
	candles := makeCandles(100, 100, 100, 100, 100, 100, 100, 100, 110)

	samples, err := e.BuildTraining(candles)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}

	s := samples[0]
	// Window reference close is 100; the next candle peaks at 110*1.01
	// and bottoms at 110*0.98.
	wantHigh := 110*1.01/100 - 1
	wantLow := 110*0.98/100 - 1
	if !almostEqual(s.Outcome.High, wantHigh) {
		t.Errorf("outcome high = %v, want %v", s.Outcome.High, wantHigh)
	}
	if !almostEqual(s.Outcome.Low, wantLow) {
		t.Errorf("outcome low = %v, want %v", s.Outcome.Low, wantLow)
	}
	if s.Outcome.Low > s.Outcome.High {
		t.Error("outcome low above high")
	}
}

func TestBuildTrainingSlideCount(t *testing.T) {
	e := NewExtractor(8)

	tests := []struct {
		name    string
		candles int
		want    int
	}{
		{"too short", 8, 0},
		{"one sample", 9, 1},
		{"many", 20, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closes := make([]float64, tt.candles)
			for i := range closes {
				closes[i] = 100 + float64(i)
			}
			samples, err := e.BuildTraining(makeCandles(closes...))
			if err != nil {
				t.Fatal(err)
			}
			if len(samples) != tt.want {
				t.Errorf("samples = %d, want %d", len(samples), tt.want)
			}
		})
	}
}
