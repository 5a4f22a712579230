package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pattern-trading-bot/internal/market"
)

// PaperClient is a deterministic in-memory venue used for dry runs and
// tests. Quotes and candle histories are set by the caller; market orders
// fill instantly at the current quote (buys at ask, sells at bid).
type PaperClient struct {
	mu      sync.RWMutex
	quotes  map[string]market.Quote
	candles map[string][]market.Candle // key coin:timeframe

	rejectNext map[string]string // coin -> rejection reason, consumed once

	// Orders records every confirmed fill for assertions and audit.
	orders []OrderResult
}

// NewPaperClient creates an empty paper venue.
func NewPaperClient() *PaperClient {
	return &PaperClient{
		quotes:     make(map[string]market.Quote),
		candles:    make(map[string][]market.Candle),
		rejectNext: make(map[string]string),
	}
}

// SetQuote sets the live quote for a coin.
func (c *PaperClient) SetQuote(coin string, ask, bid float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[coin] = market.Quote{Coin: coin, Ask: ask, Bid: bid, Ts: time.Now()}
}

// SetCandles replaces the candle history for a coin/timeframe.
func (c *PaperClient) SetCandles(coin string, tf market.Timeframe, candles []market.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles[coin+":"+string(tf)] = candles
}

// RejectNextOrder makes the next order for a coin fail with the given
// reason. Used to exercise the controller's retry path.
func (c *PaperClient) RejectNextOrder(coin, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext[coin] = reason
}

// Orders returns all confirmed fills so far.
func (c *PaperClient) Orders() []OrderResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrderResult, len(c.orders))
	copy(out, c.orders)
	return out
}

func (c *PaperClient) GetCandles(_ context.Context, coin string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := c.candles[coin+":"+string(tf)]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]market.Candle, len(history))
	copy(out, history)
	return out, nil
}

func (c *PaperClient) GetQuote(_ context.Context, coin string) (market.Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[coin]
	if !ok {
		return market.Quote{}, fmt.Errorf("paper venue has no quote for %s", coin)
	}
	return q, nil
}

func (c *PaperClient) SubmitOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reason, ok := c.rejectNext[req.Coin]; ok {
		delete(c.rejectNext, req.Coin)
		return nil, &RejectionError{Reason: reason}
	}

	q, ok := c.quotes[req.Coin]
	if !ok {
		return nil, &RejectionError{Reason: "no quote for " + req.Coin}
	}

	var price, qty float64
	switch req.Side {
	case SideBuy:
		price = q.Ask
		qty = req.Quantity
		if req.QuoteAmount > 0 {
			qty = req.QuoteAmount / price
		}
	case SideSell:
		price = q.Bid
		qty = req.Quantity
	default:
		return nil, &RejectionError{Reason: "unknown side " + string(req.Side)}
	}
	if qty <= 0 {
		return nil, &RejectionError{Reason: "non-positive quantity"}
	}

	result := OrderResult{
		Coin:      req.Coin,
		Side:      req.Side,
		FilledQty: qty,
		AvgPrice:  price,
		Ts:        time.Now(),
	}
	c.orders = append(c.orders, result)
	return &result, nil
}
