package engine

import (
	"context"
	"fmt"

	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/patterns"
)

// PatternSink persists trained patterns. Satisfied by the database
// repository; nil means train in memory only.
type PatternSink interface {
	SavePatterns(ctx context.Context, stored []patterns.Stored) error
}

// TrainerConfig controls the historical bootstrap.
type TrainerConfig struct {
	// HistoryCandles is how many closed candles to fetch per timeframe.
	HistoryCandles int `json:"history_candles"`
}

// DefaultTrainerConfig fetches the venue's maximum single-request batch.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{HistoryCandles: 1000}
}

// Trainer bootstraps the pattern store from historical candles, sliding
// the extractor's window across each coin/timeframe history.
type Trainer struct {
	cfg       TrainerConfig
	client    exchange.Client
	store     *patterns.Store
	extractor *patterns.Extractor
	sink      PatternSink
	logger    *logging.Logger
}

// NewTrainer creates a trainer. sink may be nil.
func NewTrainer(cfg TrainerConfig, client exchange.Client, store *patterns.Store, extractor *patterns.Extractor, sink PatternSink, logger *logging.Logger) *Trainer {
	if cfg.HistoryCandles <= 0 {
		cfg.HistoryCandles = DefaultTrainerConfig().HistoryCandles
	}
	return &Trainer{
		cfg:       cfg,
		client:    client,
		store:     store,
		extractor: extractor,
		sink:      sink,
		logger:    logger.Component("trainer"),
	}
}

// Train ingests training samples for every coin across all timeframes.
// A timeframe with too little history is left untrained (INACTIVE), not
// treated as an error.
func (t *Trainer) Train(ctx context.Context, coins []string) error {
	for _, coin := range coins {
		for _, tf := range market.AllTimeframes() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.TrainPair(ctx, coin, tf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore loads previously trained patterns into the store, preserving
// their learned weights.
func (t *Trainer) Restore(coin string, tf market.Timeframe, stored []patterns.Stored) error {
	for _, s := range stored {
		if _, err := t.store.IngestWeighted(coin, tf, s.Pattern, s.Outcome, s.Weight); err != nil {
			return fmt.Errorf("restore pattern %s: %w", s.Pattern.ID, err)
		}
	}
	t.logger.Info("restored trained patterns", "coin", coin, "timeframe", string(tf), "count", len(stored))
	return nil
}

// TrainPair trains a single coin/timeframe from historical candles.
func (t *Trainer) TrainPair(ctx context.Context, coin string, tf market.Timeframe) error {
	candles, err := t.client.GetCandles(ctx, coin, tf, t.cfg.HistoryCandles)
	if err != nil {
		return fmt.Errorf("fetch history for %s %s: %w", coin, tf, err)
	}

	samples, err := t.extractor.BuildTraining(candles)
	if err != nil {
		return fmt.Errorf("build training for %s %s: %w", coin, tf, err)
	}
	if len(samples) == 0 {
		t.logger.Warn("not enough history, timeframe stays inactive",
			"coin", coin, "timeframe", string(tf), "candles", len(candles))
		return nil
	}

	persisted := make([]patterns.Stored, 0, len(samples))
	for _, s := range samples {
		id, err := t.store.Ingest(coin, tf, s.Pattern, s.Outcome)
		if err != nil {
			return fmt.Errorf("ingest pattern for %s %s: %w", coin, tf, err)
		}
		s.Pattern.ID = id
		s.Pattern.Coin = coin
		s.Pattern.Timeframe = tf
		persisted = append(persisted, patterns.Stored{Pattern: s.Pattern, Outcome: s.Outcome, Weight: 1.0})
	}

	if t.sink != nil {
		if err := t.sink.SavePatterns(ctx, persisted); err != nil {
			return fmt.Errorf("persist patterns for %s %s: %w", coin, tf, err)
		}
	}

	t.logger.Info("trained timeframe",
		"coin", coin, "timeframe", string(tf), "patterns", len(samples))
	return nil
}
