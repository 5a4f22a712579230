package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"pattern-trading-bot/internal/market"
)

func TestPaperClientFillsAtQuote(t *testing.T) {
	c := NewPaperClient()
	c.SetQuote("BTC", 100, 99.5)

	buy, err := c.SubmitOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: SideBuy, QuoteAmount: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if buy.AvgPrice != 100 {
		t.Errorf("buy price = %v, want ask 100", buy.AvgPrice)
	}
	if math.Abs(buy.FilledQty-0.5) > 1e-9 {
		t.Errorf("buy qty = %v, want 0.5", buy.FilledQty)
	}

	sell, err := c.SubmitOrder(context.Background(), OrderRequest{
		Coin: "BTC", Side: SideSell, Quantity: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sell.AvgPrice != 99.5 {
		t.Errorf("sell price = %v, want bid 99.5", sell.AvgPrice)
	}

	if got := len(c.Orders()); got != 2 {
		t.Errorf("orders = %d, want 2", got)
	}
}

func TestPaperClientRejectNextConsumedOnce(t *testing.T) {
	c := NewPaperClient()
	c.SetQuote("BTC", 100, 99.5)
	c.RejectNextOrder("BTC", "insufficient balance")

	_, err := c.SubmitOrder(context.Background(), OrderRequest{Coin: "BTC", Side: SideBuy, QuoteAmount: 50})
	if !IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}

	var rej *RejectionError
	if !errors.As(err, &rej) || rej.Reason != "insufficient balance" {
		t.Errorf("rejection reason not carried: %v", err)
	}

	if _, err := c.SubmitOrder(context.Background(), OrderRequest{Coin: "BTC", Side: SideBuy, QuoteAmount: 50}); err != nil {
		t.Errorf("second order should fill, got %v", err)
	}
}

func TestPaperClientCandleLimit(t *testing.T) {
	c := NewPaperClient()
	history := make([]market.Candle, 10)
	for i := range history {
		history[i] = market.Candle{Close: float64(i)}
	}
	c.SetCandles("BTC", market.Timeframe1h, history)

	got, err := c.GetCandles(context.Background(), "BTC", market.Timeframe1h, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("candles = %d, want 3", len(got))
	}
	if got[2].Close != 9 {
		t.Errorf("last close = %v, want the most recent candle", got[2].Close)
	}
}
