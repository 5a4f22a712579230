package patterns

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pattern-trading-bot/internal/market"
)

// Store is an append-only collection of historical pattern/outcome pairs
// with a mutable reliability weight per pattern, partitioned by
// (coin, timeframe). Reads (Query) and weight writes (UpdateWeight) on the
// same partition are serialized by a per-partition RWMutex; operations on
// different partitions run concurrently.
type Store struct {
	dim    int
	floor  float64
	ceil   float64
	mu     sync.RWMutex
	shards map[string]*shard
}

type shard struct {
	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
}

type entry struct {
	pattern Pattern
	outcome Outcome
	weight  float64
}

const (
	// DefaultWeightFloor keeps a pattern from being permanently zeroed out.
	DefaultWeightFloor = 0.01
	// DefaultWeightCeiling bounds reinforcement so weights cannot run away.
	DefaultWeightCeiling = 100.0
)

// NewStore creates a store for feature vectors of the given dimensionality.
func NewStore(dim int) *Store {
	return &Store{
		dim:    dim,
		floor:  DefaultWeightFloor,
		ceil:   DefaultWeightCeiling,
		shards: make(map[string]*shard),
	}
}

// Dim returns the configured feature-vector dimensionality.
func (s *Store) Dim() int {
	return s.dim
}

// WeightBounds returns the clamp range applied to reliability weights.
func (s *Store) WeightBounds() (floor, ceiling float64) {
	return s.floor, s.ceil
}

func shardKey(coin string, tf market.Timeframe) string {
	return coin + ":" + string(tf)
}

func (s *Store) shard(coin string, tf market.Timeframe) *shard {
	key := shardKey(coin, tf)

	s.mu.RLock()
	sh, ok := s.shards[key]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[key]; ok {
		return sh
	}
	sh = &shard{byID: make(map[string]*entry)}
	s.shards[key] = sh
	return sh
}

// Ingest appends a new (Pattern, Outcome, Weight=1.0) triple. The pattern
// gets an id if it does not carry one. Fails with ErrInvalidPattern when
// the feature vector length does not match the store's dimensionality or
// the outcome is inverted.
func (s *Store) Ingest(coin string, tf market.Timeframe, p Pattern, o Outcome) (string, error) {
	return s.IngestWeighted(coin, tf, p, o, 1.0)
}

// IngestWeighted is Ingest with an explicit initial weight. Used when
// restoring a trained store from persistence; the weight is validated and
// clamped to the store's bounds.
func (s *Store) IngestWeighted(coin string, tf market.Timeframe, p Pattern, o Outcome, weight float64) (string, error) {
	if len(p.Features) != s.dim {
		return "", fmt.Errorf("%w: got %d features, store dim is %d", ErrInvalidPattern, len(p.Features), s.dim)
	}
	if o.High < o.Low {
		return "", fmt.Errorf("%w: outcome high %.8f below low %.8f", ErrInvalidPattern, o.High, o.Low)
	}
	if weight <= 0 {
		return "", fmt.Errorf("%w: non-positive weight %.8f", ErrInvalidPattern, weight)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Coin = coin
	p.Timeframe = tf

	e := &entry{pattern: p, outcome: o, weight: clamp(weight, s.floor, s.ceil)}

	sh := s.shard(coin, tf)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, dup := sh.byID[p.ID]; dup {
		return "", fmt.Errorf("%w: duplicate pattern id %s", ErrInvalidPattern, p.ID)
	}
	sh.entries = append(sh.entries, e)
	sh.byID[p.ID] = e
	return p.ID, nil
}

// Query returns a snapshot of all (Pattern, Outcome, Weight) triples for a
// (coin, timeframe) pair. An empty result means the timeframe is untrained
// (the INACTIVE condition) and is not an error.
func (s *Store) Query(coin string, tf market.Timeframe) []Stored {
	sh := s.shard(coin, tf)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]Stored, 0, len(sh.entries))
	for _, e := range sh.entries {
		out = append(out, Stored{Pattern: e.pattern, Outcome: e.outcome, Weight: e.weight})
	}
	return out
}

// Count returns how many patterns are stored for a (coin, timeframe) pair.
func (s *Store) Count(coin string, tf market.Timeframe) int {
	sh := s.shard(coin, tf)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.entries)
}

// UpdateWeight replaces a pattern's reliability weight in place, clamped
// to the store's bounds. Fails with ErrNotFound for an unknown id.
func (s *Store) UpdateWeight(coin string, tf market.Timeframe, id string, weight float64) error {
	sh := s.shard(coin, tf)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.weight = clamp(weight, s.floor, s.ceil)
	return nil
}

// Weight returns the current reliability weight of a pattern.
func (s *Store) Weight(coin string, tf market.Timeframe, id string) (float64, error) {
	sh := s.shard(coin, tf)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.weight, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
