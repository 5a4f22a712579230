package trader

import (
	"context"
	"sync"
	"time"

	"pattern-trading-bot/internal/events"
	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/signal"
)

// EntryPolicy decides whether a flat coin may open a trade. The policy
// only gates entry; DCA and exit logic never consult it.
type EntryPolicy interface {
	ShouldEnter(ctx context.Context, coin string, lv signal.Levels) (bool, error)
}

// LevelGatePolicy is the default entry policy: long level at or above the
// minimum with no short-side breaches.
type LevelGatePolicy struct {
	MinLongLevel int
}

func (p LevelGatePolicy) ShouldEnter(_ context.Context, _ string, lv signal.Levels) (bool, error) {
	return lv.LongLevel >= p.MinLongLevel && lv.ShortLevel == 0, nil
}

// Config holds the trade-lifecycle parameters.
type Config struct {
	// AllocationUSD is the quote-currency size of the initial entry.
	AllocationUSD float64 `json:"allocation_usd"`
	// DCALadder holds drawdown triggers as negative percentages, in
	// stage order. The last level repeats once the ladder is exhausted.
	DCALadder []float64 `json:"dca_ladder"`
	// LevelDCAStages is how many early DCA stages may also trigger on a
	// breached predicted-low level (stage s fires at level s+4).
	LevelDCAStages int `json:"level_dca_stages"`
	// PMStartNoDCAPct / PMStartWithDCAPct are the trailing profit-margin
	// start thresholds over cost basis.
	PMStartNoDCAPct   float64 `json:"pm_start_no_dca_pct"`
	PMStartWithDCAPct float64 `json:"pm_start_with_dca_pct"`
	// TrailingGapPct is the gap the trailing line keeps below the peak.
	TrailingGapPct float64 `json:"trailing_gap_pct"`
}

// orderTimeout bounds one order round trip against the venue.
const orderTimeout = 15 * time.Second

// orderContext detaches an order intent from loop shutdown. Once the
// decision to trade is made, the submission and its state commit run to
// completion even if the evaluation loop is being cancelled.
func orderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), orderTimeout)
}

// DefaultConfig mirrors the stock strategy parameters.
func DefaultConfig() Config {
	return Config{
		AllocationUSD:     50,
		DCALadder:         []float64{-2.5, -5, -10, -20, -30, -40, -50},
		LevelDCAStages:    4,
		PMStartNoDCAPct:   5.0,
		PMStartWithDCAPct: 2.5,
		TrailingGapPct:    0.5,
	}
}

// Controller is the per-position state machine: FLAT -> ENTERED -> FLAT,
// with staged DCA buys while entered and a ratcheting trailing-profit
// exit. There is no stop-loss; a position only closes through the
// trailing mechanism. Transitions commit only after the venue confirms
// the fill, so a rejected order leaves state untouched and the decision
// is retried next cycle.
type Controller struct {
	mu sync.Mutex

	cfg    Config
	client exchange.Client
	window *DCAWindow
	bus    *events.Bus
	logger *logging.Logger
	policy EntryPolicy
	repo   StateRepository // optional

	positions map[string]*Position
}

// New creates a trade controller. repo may be nil (no persistence); policy
// nil means the default level gate.
func New(cfg Config, client exchange.Client, window *DCAWindow, bus *events.Bus, logger *logging.Logger, policy EntryPolicy, repo StateRepository) *Controller {
	if policy == nil {
		policy = LevelGatePolicy{MinLongLevel: 3}
	}
	if len(cfg.DCALadder) == 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		cfg:       cfg,
		client:    client,
		window:    window,
		bus:       bus,
		logger:    logger.Component("trader"),
		policy:    policy,
		repo:      repo,
		positions: make(map[string]*Position),
	}
}

// Restore loads persisted open positions, resuming mid-trade after a
// restart.
func (c *Controller) Restore(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	positions, err := c.repo.LoadPositions(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pos := range positions {
		c.positions[pos.Coin] = pos
		c.logger.Info("restored open position",
			"coin", pos.Coin, "avg_cost", pos.AvgCostBasis, "dca_count", pos.DCACount)
	}
	return nil
}

// Position returns a snapshot of the coin's open position, or nil when flat.
func (c *Controller) Position(coin string) *Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.positions[coin]
	if !ok {
		return nil
	}
	snapshot := *pos
	return &snapshot
}

// Positions returns snapshots of every open position.
func (c *Controller) Positions() []*Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Position, 0, len(c.positions))
	for _, pos := range c.positions {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out
}

// OnTick advances the coin's state machine with the latest quote and
// signal levels. Exit is evaluated before DCA so a position is never
// averaged down on the same tick it should have closed.
func (c *Controller) OnTick(ctx context.Context, q market.Quote, lv signal.Levels) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, open := c.positions[q.Coin]
	if !open {
		c.tryEnter(ctx, q, lv)
		return
	}

	if exited := c.updateTrailing(ctx, pos, q); exited {
		return
	}
	c.tryDCA(ctx, pos, q, lv)
}

// tryEnter opens a position when the entry policy approves. Caller holds
// the lock.
func (c *Controller) tryEnter(ctx context.Context, q market.Quote, lv signal.Levels) {
	ok, err := c.policy.ShouldEnter(ctx, q.Coin, lv)
	if err != nil {
		c.logger.Warn("entry policy failed", "coin", q.Coin, "error", err)
		return
	}
	if !ok {
		return
	}

	octx, cancel := orderContext(ctx)
	defer cancel()

	result, err := c.client.SubmitOrder(octx, exchange.OrderRequest{
		Coin:        q.Coin,
		Side:        exchange.SideBuy,
		QuoteAmount: c.cfg.AllocationUSD,
	})
	if err != nil {
		c.logger.Warn("entry order rejected, retrying next cycle", "coin", q.Coin, "error", err)
		return
	}

	pos := &Position{
		Coin:         q.Coin,
		State:        StateEntered,
		EntryPrice:   result.AvgPrice,
		EntryTime:    result.Ts,
		Quantity:     result.FilledQty,
		AvgCostBasis: result.AvgPrice,
	}
	c.positions[q.Coin] = pos
	c.window.ResetForTrade(q.Coin)
	c.persist(octx, pos)

	c.logger.Info("entered trade",
		"coin", q.Coin, "price", result.AvgPrice, "qty", result.FilledQty,
		"long_level", lv.LongLevel, "short_level", lv.ShortLevel)
	c.bus.PublishTrade(events.EventEntry, q.Coin, result.AvgPrice, result.FilledQty)
}

// updateTrailing runs the trailing-profit exit logic against the sell
// (bid) price and reports whether the position was closed. Caller holds
// the lock.
//
// The base profit-margin line tracks the current cost basis until
// trailing activates (so it moves down after each DCA). Once active, the
// line follows the peak up by the trailing gap but never drops below the
// base line, and the forced sell fires only on an above-to-below cross.
func (c *Controller) updateTrailing(ctx context.Context, pos *Position, q market.Quote) bool {
	baseLine := pos.AvgCostBasis * (1 + c.pmStartPct(pos)/100)

	if !pos.TrailingActive {
		pos.TrailingLine = baseLine
	} else if pos.TrailingLine < baseLine {
		pos.TrailingLine = baseLine
	}

	aboveNow := q.Bid >= pos.TrailingLine

	if !pos.TrailingActive && aboveNow {
		pos.TrailingActive = true
		pos.TrailingPeak = q.Bid
		c.logger.Info("trailing armed", "coin", pos.Coin, "line", pos.TrailingLine, "bid", q.Bid)
	}

	if pos.TrailingActive {
		if q.Bid > pos.TrailingPeak {
			pos.TrailingPeak = q.Bid
		}
		newLine := pos.TrailingPeak * (1 - c.cfg.TrailingGapPct/100)
		if newLine < baseLine {
			newLine = baseLine
		}
		if newLine > pos.TrailingLine {
			pos.TrailingLine = newLine
		}

		if pos.WasAbove && q.Bid < pos.TrailingLine {
			if c.executeExit(ctx, pos, q) {
				return true
			}
			// Rejected: the cross already happened, keep WasAbove latched
			// so the forced sell retries next cycle even though the bid
			// is now below the line.
			c.persist(ctx, pos)
			return false
		}
	}

	pos.WasAbove = aboveNow
	c.persist(ctx, pos)
	return false
}

// tryDCA checks the staged-buy triggers: the hardcoded drawdown ladder,
// or (early stages only) the next unconsumed predicted-low level. Either
// alone triggers one DCA. Caller holds the lock.
func (c *Controller) tryDCA(ctx context.Context, pos *Position, q market.Quote, lv signal.Levels) {
	stage := pos.DCACount
	pnlPct := pos.PnLPercent(q.Ask)

	hardLevel := c.ladderLevel(stage)
	hardHit := pnlPct <= hardLevel

	// Level-driven DCA: stage s needs level s+4 breached (the 4th line
	// triggers the 1st DCA), and only while actually under water.
	levelHit := stage < c.cfg.LevelDCAStages && pnlPct < 0 && lv.LongLevel >= stage+4

	if !hardHit && !levelHit {
		return
	}

	now := q.Ts
	if now.IsZero() {
		now = time.Now()
	}
	if !c.window.TryAcquire(pos.Coin, now) {
		c.logger.Info("DCA deferred by rate limit",
			"coin", pos.Coin, "stage", stage, "recent", c.window.Count(pos.Coin, now))
		return
	}

	// Double down: buy the position's current value again.
	dcaAmount := pos.Value(q.Bid) * 2

	octx, cancel := orderContext(ctx)
	defer cancel()

	result, err := c.client.SubmitOrder(octx, exchange.OrderRequest{
		Coin:        pos.Coin,
		Side:        exchange.SideBuy,
		QuoteAmount: dcaAmount,
	})
	if err != nil {
		c.window.Release(pos.Coin, now)
		c.logger.Warn("DCA order rejected, retrying next cycle", "coin", pos.Coin, "error", err)
		return
	}

	totalCost := pos.AvgCostBasis*pos.Quantity + result.AvgPrice*result.FilledQty
	pos.Quantity += result.FilledQty
	pos.AvgCostBasis = totalCost / pos.Quantity
	pos.DCACount++
	pos.DCATimestamps = append(pos.DCATimestamps, result.Ts)

	// The cost basis moved, so the profit-margin line is rebuilt from
	// scratch on the next tick (switching to the with-DCA threshold).
	pos.TrailingActive = false
	pos.TrailingPeak = 0
	pos.TrailingLine = 0
	pos.WasAbove = false

	c.persist(octx, pos)

	c.logger.Info("DCA buy filled",
		"coin", pos.Coin, "stage", stage+1, "price", result.AvgPrice,
		"qty", result.FilledQty, "avg_cost", pos.AvgCostBasis,
		"hard_hit", hardHit, "level_hit", levelHit)
	c.bus.PublishTrade(events.EventDCA, pos.Coin, result.AvgPrice, result.FilledQty)
}

// executeExit sells the full position and reports whether the exit
// committed. Caller holds the lock.
func (c *Controller) executeExit(ctx context.Context, pos *Position, q market.Quote) bool {
	octx, cancel := orderContext(ctx)
	defer cancel()

	result, err := c.client.SubmitOrder(octx, exchange.OrderRequest{
		Coin:     pos.Coin,
		Side:     exchange.SideSell,
		Quantity: pos.Quantity,
	})
	if err != nil {
		c.logger.Warn("exit order rejected, retrying next cycle", "coin", pos.Coin, "error", err)
		return false
	}

	delete(c.positions, pos.Coin)
	c.window.ResetForTrade(pos.Coin)
	if c.repo != nil {
		if derr := c.repo.DeletePosition(octx, pos.Coin); derr != nil {
			c.logger.Warn("failed to delete persisted position", "coin", pos.Coin, "error", derr)
		}
	}

	c.logger.Info("trailing exit filled",
		"coin", pos.Coin, "price", result.AvgPrice, "qty", result.FilledQty,
		"avg_cost", pos.AvgCostBasis, "pnl_pct", pos.PnLPercent(result.AvgPrice))
	c.bus.PublishTrade(events.EventExit, pos.Coin, result.AvgPrice, result.FilledQty)
	return true
}

func (c *Controller) pmStartPct(pos *Position) float64 {
	if pos.DCACount == 0 {
		return c.cfg.PMStartNoDCAPct
	}
	return c.cfg.PMStartWithDCAPct
}

// ladderLevel returns the drawdown trigger for a stage, repeating the
// deepest level once the ladder is exhausted.
func (c *Controller) ladderLevel(stage int) float64 {
	if stage < len(c.cfg.DCALadder) {
		return c.cfg.DCALadder[stage]
	}
	return c.cfg.DCALadder[len(c.cfg.DCALadder)-1]
}

func (c *Controller) persist(ctx context.Context, pos *Position) {
	if c.repo == nil {
		return
	}
	if err := c.repo.SavePosition(ctx, pos); err != nil {
		c.logger.Warn("failed to persist position", "coin", pos.Coin, "error", err)
	}
}
