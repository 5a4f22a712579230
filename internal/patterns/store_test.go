package patterns

import (
	"errors"
	"testing"

	"pattern-trading-bot/internal/market"
)

func testPattern(dim int, fill float64) Pattern {
	features := make([]float64, dim)
	for i := range features {
		features[i] = fill
	}
	return Pattern{Features: features, RefPrice: 100}
}

func TestIngestValidation(t *testing.T) {
	store := NewStore(8)

	tests := []struct {
		name    string
		pattern Pattern
		outcome Outcome
		weight  float64
		wantErr bool
	}{
		{"valid", testPattern(8, 0.01), Outcome{High: 0.02, Low: -0.01}, 1.0, false},
		{"wrong dimension", testPattern(4, 0.01), Outcome{High: 0.02, Low: -0.01}, 1.0, true},
		{"inverted outcome", testPattern(8, 0.01), Outcome{High: -0.02, Low: 0.01}, 1.0, true},
		{"zero weight", testPattern(8, 0.01), Outcome{High: 0.02, Low: -0.01}, 0, true},
		{"negative weight", testPattern(8, 0.01), Outcome{High: 0.02, Low: -0.01}, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.IngestWeighted("BTC", market.Timeframe1h, tt.pattern, tt.outcome, tt.weight)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IngestWeighted() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPattern) {
				t.Errorf("expected ErrInvalidPattern, got %v", err)
			}
		})
	}
}

func TestIngestAssignsID(t *testing.T) {
	store := NewStore(8)

	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), Outcome{High: 0.02, Low: -0.01})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	w, err := store.Weight("BTC", market.Timeframe1h, id)
	if err != nil {
		t.Fatalf("Weight() failed: %v", err)
	}
	if w != 1.0 {
		t.Errorf("initial weight = %v, want 1.0", w)
	}
}

func TestIngestRejectsDuplicateID(t *testing.T) {
	store := NewStore(8)

	p := testPattern(8, 0.01)
	p.ID = "fixed-id"
	o := Outcome{High: 0.02, Low: -0.01}
	if _, err := store.Ingest("BTC", market.Timeframe1h, p, o); err != nil {
		t.Fatalf("first Ingest() failed: %v", err)
	}
	if _, err := store.Ingest("BTC", market.Timeframe1h, p, o); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestQueryPartitioning(t *testing.T) {
	store := NewStore(8)

	o := Outcome{High: 0.02, Low: -0.01}
	if _, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), o); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Ingest("BTC", market.Timeframe4h, testPattern(8, 0.02), o); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Ingest("ETH", market.Timeframe1h, testPattern(8, 0.03), o); err != nil {
		t.Fatal(err)
	}

	if got := store.Count("BTC", market.Timeframe1h); got != 1 {
		t.Errorf("BTC 1h count = %d, want 1", got)
	}
	if got := store.Count("BTC", market.Timeframe4h); got != 1 {
		t.Errorf("BTC 4h count = %d, want 1", got)
	}
	if got := store.Count("ETH", market.Timeframe4h); got != 0 {
		t.Errorf("ETH 4h count = %d, want 0", got)
	}
	if got := len(store.Query("BTC", market.Timeframe12h)); got != 0 {
		t.Errorf("untrained timeframe returned %d patterns, want 0", got)
	}
}

func TestUpdateWeightClamps(t *testing.T) {
	store := NewStore(8)
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), Outcome{High: 0.02, Low: -0.01})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateWeight("BTC", market.Timeframe1h, id, 1e9); err != nil {
		t.Fatal(err)
	}
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); w != DefaultWeightCeiling {
		t.Errorf("weight = %v, want clamped to %v", w, DefaultWeightCeiling)
	}

	if err := store.UpdateWeight("BTC", market.Timeframe1h, id, 1e-9); err != nil {
		t.Fatal(err)
	}
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); w != DefaultWeightFloor {
		t.Errorf("weight = %v, want clamped to %v", w, DefaultWeightFloor)
	}
}

func TestUpdateWeightUnknownID(t *testing.T) {
	store := NewStore(8)
	err := store.UpdateWeight("BTC", market.Timeframe1h, "missing", 2.0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
