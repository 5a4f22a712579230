package patterns

import "errors"

var (
	// ErrInvalidPattern is returned when a feature vector does not match
	// the store's configured dimensionality, or an outcome is inverted.
	// This is a programmer/config error and is never retried.
	ErrInvalidPattern = errors.New("patterns: invalid pattern")

	// ErrNotFound is returned when a pattern id is unknown to the store.
	ErrNotFound = errors.New("patterns: pattern not found")

	// ErrNoData is returned when a (coin, timeframe) pair has no training
	// data. Callers treat the timeframe as INACTIVE, not as a failure.
	ErrNoData = errors.New("patterns: no training data")

	// ErrCorruptStore is returned when persisted pattern/weight data fails
	// validation at load time. The operator must retrain.
	ErrCorruptStore = errors.New("patterns: corrupt store")
)
