// Package exchange provides connectivity to the trading venue: candle
// history, live quotes and order execution. The trading core only depends
// on the Client interface; the REST client and the paper client are
// interchangeable implementations.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pattern-trading-bot/internal/market"
)

// Side is an order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest describes an order intent. Exactly one of Quantity (base
// asset) or QuoteAmount (quote currency to spend) must be set for market
// buys; sells use Quantity.
type OrderRequest struct {
	Coin          string  `json:"coin"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity,omitempty"`
	QuoteAmount   float64 `json:"quote_amount,omitempty"`
	ClientOrderID string  `json:"client_order_id"`
}

// OrderResult is a confirmed fill.
type OrderResult struct {
	Coin      string    `json:"coin"`
	Side      Side      `json:"side"`
	FilledQty float64   `json:"filled_qty"`
	AvgPrice  float64   `json:"avg_price"`
	Ts        time.Time `json:"ts"`
}

// RejectionError is returned when the venue refuses an order. The trade
// controller leaves state unchanged and retries on the next cycle.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// IsRejection reports whether err is a venue-side order rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Client is the venue interface consumed by the trading core.
type Client interface {
	// GetCandles returns up to limit closed candles, oldest first.
	GetCandles(ctx context.Context, coin string, tf market.Timeframe, limit int) ([]market.Candle, error)
	// GetQuote returns the current best ask/bid for a coin.
	GetQuote(ctx context.Context, coin string) (market.Quote, error)
	// SubmitOrder places a market order and returns the confirmed fill,
	// or a RejectionError when the venue refuses it.
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// Ensure implementations satisfy the interface.
var (
	_ Client = (*RESTClient)(nil)
	_ Client = (*PaperClient)(nil)
)
