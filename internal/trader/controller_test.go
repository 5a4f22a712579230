package trader

import (
	"context"
	"math"
	"testing"
	"time"

	"pattern-trading-bot/internal/events"
	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/signal"
)

func newTestController(client exchange.Client) *Controller {
	return New(DefaultConfig(), client, NewDCAWindow(24*time.Hour, 2),
		events.NewBus(), logging.NewNop(), nil, nil)
}

func quote(coin string, ask, bid float64) market.Quote {
	return market.Quote{Coin: coin, Ask: ask, Bid: bid, Ts: time.Now()}
}

func levels(long, short int) signal.Levels {
	return signal.Levels{Coin: "BTC", LongLevel: long, ShortLevel: short}
}

// tick sets the venue quote and advances the state machine in one step.
func tick(c *Controller, venue *exchange.PaperClient, ask, bid float64, lv signal.Levels) {
	venue.SetQuote("BTC", ask, bid)
	c.OnTick(context.Background(), quote("BTC", ask, bid), lv)
}

func TestEntryGate(t *testing.T) {
	tests := []struct {
		name      string
		long      int
		short     int
		wantEnter bool
	}{
		{"level below gate", 2, 0, false},
		{"gate met", 3, 0, true},
		{"above gate", 5, 0, true},
		{"short breach blocks", 5, 1, false},
		{"no signal", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := exchange.NewPaperClient()
			c := newTestController(venue)

			tick(c, venue, 95, 94.9, levels(tt.long, tt.short))

			pos := c.Position("BTC")
			if (pos != nil) != tt.wantEnter {
				t.Fatalf("entered = %v, want %v", pos != nil, tt.wantEnter)
			}
			if !tt.wantEnter {
				return
			}
			if pos.AvgCostBasis != 95 {
				t.Errorf("avg cost = %v, want fill at ask 95", pos.AvgCostBasis)
			}
			wantQty := DefaultConfig().AllocationUSD / 95
			if math.Abs(pos.Quantity-wantQty) > 1e-9 {
				t.Errorf("quantity = %v, want %v", pos.Quantity, wantQty)
			}
		})
	}
}

func TestEntryRejectionLeavesFlat(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	venue.RejectNextOrder("BTC", "insufficient balance")
	tick(c, venue, 95, 94.9, levels(3, 0))
	if c.Position("BTC") != nil {
		t.Fatal("rejected entry must leave the coin flat")
	}

	// Conditions persist, next cycle succeeds.
	tick(c, venue, 95, 94.9, levels(3, 0))
	if c.Position("BTC") == nil {
		t.Fatal("expected entry on retry")
	}
}

func TestTrailingExitWalk(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	if c.Position("BTC") == nil {
		t.Fatal("setup: entry failed")
	}

	// Below the 5% profit-margin line: trailing stays inactive.
	tick(c, venue, 104, 103.9, levels(0, 0))
	pos := c.Position("BTC")
	if pos.TrailingActive {
		t.Fatal("trailing armed below the base line")
	}

	// Bid crosses the base line at 105: arm and start tracking the peak.
	tick(c, venue, 106.1, 106, levels(0, 0))
	pos = c.Position("BTC")
	if !pos.TrailingActive {
		t.Fatal("trailing not armed above the base line")
	}
	if pos.TrailingPeak != 106 {
		t.Errorf("peak = %v, want 106", pos.TrailingPeak)
	}

	// New peak raises the line to 110 * 0.995 = 109.45.
	tick(c, venue, 110.1, 110, levels(0, 0))
	pos = c.Position("BTC")
	if math.Abs(pos.TrailingLine-109.45) > 1e-9 {
		t.Errorf("line = %v, want 109.45", pos.TrailingLine)
	}

	// Bid falls through the line: forced sell at the bid.
	tick(c, venue, 109.1, 109, levels(0, 0))
	if c.Position("BTC") != nil {
		t.Fatal("expected exit on above-to-below cross")
	}

	orders := venue.Orders()
	last := orders[len(orders)-1]
	if last.Side != exchange.SideSell || last.AvgPrice != 109 {
		t.Errorf("exit fill = %+v, want SELL at 109", last)
	}
}

func TestRejectedExitRetriesNextCycle(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	tick(c, venue, 110.1, 110, levels(0, 0)) // arm, peak 110, line 109.45

	// The forced sell is rejected: the position stays open and the cross
	// stays latched even though the bid is now below the line.
	venue.RejectNextOrder("BTC", "insufficient balance")
	tick(c, venue, 109.1, 109, levels(0, 0))
	pos := c.Position("BTC")
	if pos == nil {
		t.Fatal("rejected exit must keep the position open")
	}
	if !pos.WasAbove {
		t.Fatal("rejected exit cleared the cross latch")
	}

	// The identical tick next cycle completes the exit.
	tick(c, venue, 109.1, 109, levels(0, 0))
	if c.Position("BTC") != nil {
		t.Fatal("exit not retried after a rejection")
	}
	orders := venue.Orders()
	last := orders[len(orders)-1]
	if last.Side != exchange.SideSell || last.AvgPrice != 109 {
		t.Errorf("exit fill = %+v, want SELL at 109", last)
	}
}

func TestTrailingLineNeverRatchetsDown(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	tick(c, venue, 110.1, 110, levels(0, 0))
	lineAtPeak := c.Position("BTC").TrailingLine

	// Price eases but stays above the line: the line must hold.
	tick(c, venue, 109.6, 109.5, levels(0, 0))
	pos := c.Position("BTC")
	if pos == nil {
		t.Fatal("position exited while above the line")
	}
	if pos.TrailingLine < lineAtPeak {
		t.Errorf("line dropped from %v to %v", lineAtPeak, pos.TrailingLine)
	}
}

func TestNoExitWithoutCross(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))

	// First tick already below the armed line cannot happen without a
	// prior above tick; simulate price touching the line exactly.
	tick(c, venue, 105.1, 105, levels(0, 0))
	pos := c.Position("BTC")
	if pos == nil {
		t.Fatal("exit without an above-to-below cross")
	}
	if !pos.TrailingActive {
		t.Fatal("bid at the line should arm trailing")
	}
}

func TestHardDCALadder(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	entryQty := c.Position("BTC").Quantity

	// Drawdown -2.6% trips the first ladder stage at -2.5%.
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	pos := c.Position("BTC")
	if pos.DCACount != 1 {
		t.Fatalf("dca count = %d, want 1", pos.DCACount)
	}
	if pos.Quantity <= entryQty {
		t.Error("DCA did not increase quantity")
	}
	if pos.AvgCostBasis >= 100 {
		t.Errorf("avg cost = %v, want below 100 after buying the dip", pos.AvgCostBasis)
	}
	if pos.TrailingActive || pos.TrailingPeak != 0 {
		t.Error("DCA must reset trailing state")
	}

	// Same drawdown does not re-trigger stage 0; stage 1 needs -5%.
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	if got := c.Position("BTC").DCACount; got != 1 {
		t.Fatalf("dca count = %d after repeat tick, want 1", got)
	}
}

func TestLevelDrivenDCA(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))

	// Small loss, below the hard ladder, but four predicted lows breached.
	tick(c, venue, 99, 98.9, levels(4, 0))
	if got := c.Position("BTC").DCACount; got != 1 {
		t.Fatalf("dca count = %d, want 1 from level trigger", got)
	}

	// Stage 1 needs level 5; level 4 again does nothing.
	tick(c, venue, 98.5, 98.4, levels(4, 0))
	if got := c.Position("BTC").DCACount; got != 1 {
		t.Fatalf("dca count = %d, want still 1", got)
	}
}

func TestLevelDCARequiresLoss(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))

	// Levels breached but the position is in profit: no DCA.
	tick(c, venue, 101, 100.9, levels(7, 0))
	if got := c.Position("BTC").DCACount; got != 0 {
		t.Fatalf("dca count = %d, want 0 while in profit", got)
	}
}

func TestDCARateLimit(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))

	tick(c, venue, 97.4, 97.3, levels(0, 0)) // stage 0 at -2.5%
	// Cost basis is now ~98.3; stage 1 needs -5% against that.
	tick(c, venue, 93.3, 93.2, levels(0, 0))
	if got := c.Position("BTC").DCACount; got != 2 {
		t.Fatalf("dca count = %d, want 2", got)
	}

	// Third trigger inside the 24h window is deferred.
	tick(c, venue, 80, 79.9, levels(0, 0)) // deep past stage 2
	if got := c.Position("BTC").DCACount; got != 2 {
		t.Fatalf("dca count = %d, want rate-limited at 2", got)
	}
}

func TestDCARejectionReleasesBudget(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))

	venue.RejectNextOrder("BTC", "insufficient balance")
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	pos := c.Position("BTC")
	if pos.DCACount != 0 {
		t.Fatalf("dca count = %d after rejection, want 0", pos.DCACount)
	}

	// The failed attempt must not consume the window budget: two more
	// buys still fit.
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	tick(c, venue, 93.3, 93.2, levels(0, 0))
	if got := c.Position("BTC").DCACount; got != 2 {
		t.Fatalf("dca count = %d, want 2 after retries", got)
	}
}

func TestNoStopLoss(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	tick(c, venue, 93.3, 93.2, levels(0, 0))

	// Catastrophic drawdown with the DCA budget exhausted: the position
	// must simply be held.
	tick(c, venue, 40, 39.9, levels(0, 0))
	if c.Position("BTC") == nil {
		t.Fatal("position closed without a trailing-profit exit")
	}
	if got := c.Position("BTC").DCACount; got != 2 {
		t.Fatalf("dca count = %d, want budget capped at 2", got)
	}
}

func TestWithDCAProfitMarginThreshold(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	tick(c, venue, 97.4, 97.3, levels(0, 0))
	pos := c.Position("BTC")
	avgCost := pos.AvgCostBasis

	// With one DCA the margin threshold drops to 2.5% over cost basis.
	armPrice := avgCost * 1.025
	tick(c, venue, armPrice+0.1, armPrice+0.05, levels(0, 0))
	pos = c.Position("BTC")
	if !pos.TrailingActive {
		t.Fatalf("trailing not armed at %.4f over cost basis %.4f", armPrice, avgCost)
	}
}

// cancelFailClient rejects orders once its context is cancelled, the way
// a real HTTP client would.
type cancelFailClient struct {
	*exchange.PaperClient
}

func (c *cancelFailClient) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.PaperClient.SubmitOrder(ctx, req)
}

func TestOrdersDetachedFromLoopShutdown(t *testing.T) {
	venue := exchange.NewPaperClient()
	venue.SetQuote("BTC", 95, 94.9)
	c := newTestController(&cancelFailClient{venue})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A tick already in flight when the loop context is cancelled must
	// still complete its order intent.
	c.OnTick(ctx, quote("BTC", 95, 94.9), levels(3, 0))
	if c.Position("BTC") == nil {
		t.Fatal("entry aborted by loop cancellation")
	}
}

func TestPositionsSnapshotIsolation(t *testing.T) {
	venue := exchange.NewPaperClient()
	c := newTestController(venue)

	tick(c, venue, 100, 99.9, levels(3, 0))
	snap := c.Positions()
	if len(snap) != 1 {
		t.Fatalf("positions = %d, want 1", len(snap))
	}
	snap[0].Quantity = -1

	if c.Position("BTC").Quantity == -1 {
		t.Fatal("snapshot mutation leaked into controller state")
	}
}
