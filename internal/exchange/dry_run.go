package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pattern-trading-bot/internal/logging"
)

// DryRunClient passes market data through to the underlying client but
// fills orders locally at the live quote. Buys fill at ask, sells at bid.
type DryRunClient struct {
	Client
	logger *logging.Logger

	mu     sync.Mutex
	orders []OrderResult
}

var _ Client = (*DryRunClient)(nil)

// NewDryRunClient wraps base with simulated order execution.
func NewDryRunClient(base Client, logger *logging.Logger) *DryRunClient {
	return &DryRunClient{Client: base, logger: logger.Component("dry-run")}
}

func (c *DryRunClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	q, err := c.Client.GetQuote(ctx, req.Coin)
	if err != nil {
		return nil, &RejectionError{Reason: fmt.Sprintf("no quote for fill: %v", err)}
	}

	var price, qty float64
	switch req.Side {
	case SideBuy:
		price = q.Ask
		if req.QuoteAmount > 0 {
			qty = req.QuoteAmount / price
		} else {
			qty = req.Quantity
		}
	case SideSell:
		price = q.Bid
		qty = req.Quantity
	default:
		return nil, &RejectionError{Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	if price <= 0 || qty <= 0 {
		return nil, &RejectionError{Reason: "degenerate simulated fill"}
	}

	result := OrderResult{
		Coin:      req.Coin,
		Side:      req.Side,
		FilledQty: qty,
		AvgPrice:  price,
		Ts:        time.Now().UTC(),
	}

	c.mu.Lock()
	c.orders = append(c.orders, result)
	c.mu.Unlock()

	c.logger.Info("simulated fill",
		"coin", req.Coin, "side", string(req.Side), "price", price, "qty", qty)
	return &result, nil
}

// Orders returns every simulated fill in submission order.
func (c *DryRunClient) Orders() []OrderResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OrderResult, len(c.orders))
	copy(out, c.orders)
	return out
}
