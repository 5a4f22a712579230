package database

import (
	"context"
	"fmt"
	"time"

	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/patterns"
)

// Repository provides persistence for the pattern store and the trade
// audit log.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SavePatterns upserts stored patterns, overwriting weight and outcome on
// conflict.
func (r *Repository) SavePatterns(ctx context.Context, stored []patterns.Stored) error {
	for _, s := range stored {
		_, err := r.db.Pool.Exec(ctx, `
			INSERT INTO patterns (id, coin, timeframe, features, ref_price, outcome_high, outcome_low, weight, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (id) DO UPDATE SET
				outcome_high = EXCLUDED.outcome_high,
				outcome_low = EXCLUDED.outcome_low,
				weight = EXCLUDED.weight,
				updated_at = NOW()`,
			s.Pattern.ID, s.Pattern.Coin, string(s.Pattern.Timeframe),
			s.Pattern.Features, s.Pattern.RefPrice,
			s.Outcome.High, s.Outcome.Low, s.Weight,
		)
		if err != nil {
			return fmt.Errorf("save pattern %s: %w", s.Pattern.ID, err)
		}
	}
	return nil
}

// LoadPatterns reads every stored pattern for a coin/timeframe. Rows with
// the wrong feature dimension or inverted outcomes mean the table does not
// match the running extractor; those are reported as a corrupt store.
func (r *Repository) LoadPatterns(ctx context.Context, coin string, tf market.Timeframe, dim int) ([]patterns.Stored, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, coin, timeframe, features, ref_price, outcome_high, outcome_low, weight
		FROM patterns WHERE coin = $1 AND timeframe = $2`,
		coin, string(tf),
	)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var out []patterns.Stored
	for rows.Next() {
		var s patterns.Stored
		var tfStr string
		if err := rows.Scan(
			&s.Pattern.ID, &s.Pattern.Coin, &tfStr, &s.Pattern.Features,
			&s.Pattern.RefPrice, &s.Outcome.High, &s.Outcome.Low, &s.Weight,
		); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		s.Pattern.Timeframe = market.Timeframe(tfStr)

		if len(s.Pattern.Features) != dim {
			return nil, fmt.Errorf("pattern %s has %d features, want %d: %w",
				s.Pattern.ID, len(s.Pattern.Features), dim, patterns.ErrCorruptStore)
		}
		if s.Outcome.Low > s.Outcome.High {
			return nil, fmt.Errorf("pattern %s outcome low above high: %w",
				s.Pattern.ID, patterns.ErrCorruptStore)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("pattern %s has weight %f: %w",
				s.Pattern.ID, s.Weight, patterns.ErrCorruptStore)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateWeight persists a single reweighted pattern.
func (r *Repository) UpdateWeight(ctx context.Context, id string, weight float64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE patterns SET weight = $2, updated_at = NOW() WHERE id = $1`, id, weight)
	if err != nil {
		return fmt.Errorf("update weight for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pattern %s: %w", id, patterns.ErrNotFound)
	}
	return nil
}

// TradeEvent is one row of the trade audit log.
type TradeEvent struct {
	ID         int64     `json:"id"`
	Coin       string    `json:"coin"`
	EventType  string    `json:"event_type"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InsertTradeEvent appends to the audit log.
func (r *Repository) InsertTradeEvent(ctx context.Context, ev TradeEvent) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trade_events (coin, event_type, price, quantity, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Coin, ev.EventType, ev.Price, ev.Quantity, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// ListTradeEvents returns the most recent audit rows, newest first.
func (r *Repository) ListTradeEvents(ctx context.Context, coin string, limit int) ([]TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, coin, event_type, price, quantity, occurred_at
		FROM trade_events
		WHERE ($1 = '' OR coin = $1)
		ORDER BY occurred_at DESC LIMIT $2`,
		coin, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list trade events: %w", err)
	}
	defer rows.Close()

	var out []TradeEvent
	for rows.Next() {
		var ev TradeEvent
		if err := rows.Scan(&ev.ID, &ev.Coin, &ev.EventType, &ev.Price, &ev.Quantity, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
