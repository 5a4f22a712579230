package patterns

import (
	"testing"

	"pattern-trading-bot/internal/market"
)

func TestReconcileReinforcesAccurate(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	outcome := Outcome{High: 0.02, Low: -0.01}
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), outcome)
	if err != nil {
		t.Fatal(err)
	}

	// Realized candle matches the pattern's own outcome exactly.
	if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, outcome); err != nil {
		t.Fatal(err)
	}

	w, _ := store.Weight("BTC", market.Timeframe1h, id)
	if w <= 1.0 {
		t.Errorf("weight = %v after exact match, want > 1.0", w)
	}
	want := 1.0 * DefaultUpdaterConfig().MaxFactor
	if !almostEqual(w, want) {
		t.Errorf("weight = %v, want max factor %v", w, want)
	}
}

func TestReconcileDecaysInaccurate(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), Outcome{High: 0.50, Low: 0.40})
	if err != nil {
		t.Fatal(err)
	}

	// Realized candle is nowhere near the stored outcome.
	realized := Outcome{High: 0.01, Low: -0.01}
	if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, realized); err != nil {
		t.Fatal(err)
	}

	w, _ := store.Weight("BTC", market.Timeframe1h, id)
	want := 1.0 * DefaultUpdaterConfig().MinFactor
	if !almostEqual(w, want) {
		t.Errorf("weight = %v, want min factor %v", w, want)
	}
}

func TestReconcileToleranceBoundary(t *testing.T) {
	cfg := DefaultUpdaterConfig()
	store := NewStore(8)
	u := NewUpdater(store, cfg)

	// Error of exactly Tolerance leaves the weight untouched.
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01),
		Outcome{High: cfg.Tolerance, Low: -cfg.Tolerance})
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, Outcome{High: 0, Low: 0}); err != nil {
		t.Fatal(err)
	}

	w, _ := store.Weight("BTC", market.Timeframe1h, id)
	if !almostEqual(w, 1.0) {
		t.Errorf("weight = %v at tolerance boundary, want 1.0", w)
	}
}

func TestReconcileWeightNeverEscapesBounds(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	outcome := Outcome{High: 0.02, Low: -0.01}
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), outcome)
	if err != nil {
		t.Fatal(err)
	}

	// Reinforce far past the ceiling.
	for i := 0; i < 200; i++ {
		if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, outcome); err != nil {
			t.Fatal(err)
		}
	}
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); w > DefaultWeightCeiling {
		t.Errorf("weight %v escaped ceiling %v", w, DefaultWeightCeiling)
	}

	// Decay far past the floor.
	miss := Outcome{High: 1.0, Low: 0.9}
	for i := 0; i < 200; i++ {
		if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, miss); err != nil {
			t.Fatal(err)
		}
	}
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); w < DefaultWeightFloor {
		t.Errorf("weight %v escaped floor %v", w, DefaultWeightFloor)
	}
}

func TestReconcileUnknownIDContinues(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	outcome := Outcome{High: 0.02, Low: -0.01}
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), outcome)
	if err != nil {
		t.Fatal(err)
	}

	err = u.Reconcile("BTC", market.Timeframe1h, []string{"ghost", id}, outcome)
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}

	// The known pattern was still reconciled.
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); w <= 1.0 {
		t.Errorf("known pattern weight = %v, want reinforced past 1.0", w)
	}
}

func TestReconcileRejectsInvertedRealized(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	err := u.Reconcile("BTC", market.Timeframe1h, nil, Outcome{High: -0.05, Low: 0.05})
	if err == nil {
		t.Fatal("expected error for inverted realized outcome")
	}
}

func TestReconcileNotifiesOnUpdate(t *testing.T) {
	store := NewStore(8)
	u := NewUpdater(store, DefaultUpdaterConfig())

	outcome := Outcome{High: 0.02, Low: -0.01}
	id, err := store.Ingest("BTC", market.Timeframe1h, testPattern(8, 0.01), outcome)
	if err != nil {
		t.Fatal(err)
	}

	var gotID string
	var gotWeight float64
	u.OnUpdate = func(coin string, tf market.Timeframe, id string, weight float64) {
		gotID = id
		gotWeight = weight
	}

	if err := u.Reconcile("BTC", market.Timeframe1h, []string{id}, outcome); err != nil {
		t.Fatal(err)
	}
	if gotID != id {
		t.Errorf("callback id = %q, want %q", gotID, id)
	}
	if w, _ := store.Weight("BTC", market.Timeframe1h, id); !almostEqual(gotWeight, w) {
		t.Errorf("callback weight = %v, store weight = %v", gotWeight, w)
	}
}
