// Package engine drives the evaluation loop: quotes in, predictions and
// signal levels out, trade decisions applied, and pattern weights
// reconciled when timeframe candles close.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"pattern-trading-bot/internal/events"
	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/patterns"
	"pattern-trading-bot/internal/predictor"
	"pattern-trading-bot/internal/signal"
	"pattern-trading-bot/internal/trader"
)

// Config holds the evaluation-loop parameters.
type Config struct {
	// Coins is the tracked coin universe.
	Coins []string `json:"coins"`
	// EvalInterval is the cadence of the quote/predict/decide cycle.
	EvalInterval time.Duration `json:"eval_interval"`
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{EvalInterval: 10 * time.Second}
}

// closeGrace delays each close reconcile so the venue has finalized the
// candle.
const closeGrace = 5 * time.Second

type predKey struct {
	coin string
	tf   market.Timeframe
}

// predSnapshot pairs a prediction with the open time of the in-progress
// candle it targets. The close reconciler matches on that open time, so
// an evaluation cycle landing between a candle close and its reconcile
// cannot swap in a prediction for the wrong candle.
type predSnapshot struct {
	pc       *predictor.PredictedCandle
	openTime time.Time
}

// Runner owns the evaluation loop and the per-timeframe candle-close
// reconciliation schedule.
//
// Each cycle runs to completion; if a cycle overruns the interval the
// missed ticks are dropped, never queued. Predictions are cached per
// (coin, timeframe) together with the open time of the candle they
// target, and weights reconcile only against the prediction made for the
// candle that actually closed.
type Runner struct {
	cfg        Config
	client     exchange.Client
	extractor  *patterns.Extractor
	pred       *predictor.Predictor
	updater    *patterns.Updater
	controller *trader.Controller
	bus        *events.Bus
	logger     *logging.Logger

	mu             sync.RWMutex
	lastPreds      map[predKey]*predSnapshot
	prevPreds      map[predKey]*predSnapshot
	lastReconciled map[predKey]time.Time
	lastLevel      map[string]signal.Levels

	readyOnce sync.Once
	ready     chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires the evaluation loop.
func NewRunner(cfg Config, client exchange.Client, extractor *patterns.Extractor, pred *predictor.Predictor, updater *patterns.Updater, controller *trader.Controller, bus *events.Bus, logger *logging.Logger) *Runner {
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = DefaultConfig().EvalInterval
	}
	return &Runner{
		cfg:            cfg,
		client:         client,
		extractor:      extractor,
		pred:           pred,
		updater:        updater,
		controller:     controller,
		bus:            bus,
		logger:         logger.Component("engine"),
		lastPreds:      make(map[predKey]*predSnapshot),
		prevPreds:      make(map[predKey]*predSnapshot),
		lastReconciled: make(map[predKey]time.Time),
		lastLevel:      make(map[string]signal.Levels),
		ready:          make(chan struct{}),
	}
}

// Start launches the evaluation loop and one close-scheduler per
// timeframe. Returns immediately.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.evalLoop(ctx)

	for _, tf := range market.AllTimeframes() {
		r.wg.Add(1)
		go r.closeLoop(ctx, tf)
	}
	r.logger.Info("engine started",
		"coins", len(r.cfg.Coins), "eval_interval", r.cfg.EvalInterval)
}

// Stop signals shutdown and waits for the in-flight cycle to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
		r.logger.Info("engine stopped")
	}
}

// Ready is closed once the first full evaluation cycle completes. Trade
// decisions never run before that point.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Levels returns the latest signal snapshot for every coin.
func (r *Runner) Levels() map[string]signal.Levels {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]signal.Levels, len(r.lastLevel))
	for coin, lv := range r.lastLevel {
		out[coin] = lv
	}
	return out
}

// Predictions returns the latest predicted candles for one coin, one per
// active timeframe.
func (r *Runner) Predictions(coin string) []*predictor.PredictedCandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*predictor.PredictedCandle, 0, len(market.AllTimeframes()))
	for _, tf := range market.AllTimeframes() {
		if snap, ok := r.lastPreds[predKey{coin, tf}]; ok {
			out = append(out, snap.pc)
		}
	}
	return out
}

func (r *Runner) evalLoop(ctx context.Context) {
	defer r.wg.Done()

	// First cycle runs immediately so readiness does not wait a full
	// interval.
	r.runCycle(ctx)
	r.readyOnce.Do(func() {
		close(r.ready)
		r.bus.Publish(events.Event{Type: events.EventEngineReady, Data: map[string]interface{}{
			"coins": len(r.cfg.Coins),
		}})
	})

	ticker := time.NewTicker(r.cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle evaluates every coin once: quote, per-timeframe predictions in
// parallel, signal levels, then the trade state machine.
func (r *Runner) runCycle(ctx context.Context) {
	for _, coin := range r.cfg.Coins {
		if ctx.Err() != nil {
			return
		}
		r.evalCoin(ctx, coin)
	}
}

func (r *Runner) evalCoin(ctx context.Context, coin string) {
	quote, err := r.client.GetQuote(ctx, coin)
	if err != nil {
		r.logger.Warn("quote fetch failed, skipping coin this cycle", "coin", coin, "error", err)
		return
	}

	tfs := market.AllTimeframes()
	snaps := make([]*predSnapshot, len(tfs))

	var wg sync.WaitGroup
	for i, tf := range tfs {
		wg.Add(1)
		go func(i int, tf market.Timeframe) {
			defer wg.Done()
			snaps[i] = r.predictTimeframe(ctx, coin, tf)
		}(i, tf)
	}
	wg.Wait()

	preds := make([]*predictor.PredictedCandle, len(tfs))
	r.mu.Lock()
	for i, tf := range tfs {
		if snaps[i] == nil {
			continue
		}
		preds[i] = snaps[i].pc
		key := predKey{coin, tf}
		// A new target candle displaces the old snapshot, but the close
		// reconciler still needs it until the closed candle is paired.
		if cur, ok := r.lastPreds[key]; ok && !cur.openTime.Equal(snaps[i].openTime) {
			r.prevPreds[key] = cur
		}
		r.lastPreds[key] = snaps[i]
	}
	r.mu.Unlock()

	lv := signal.Evaluate(coin, quote.Ask, quote.Bid, preds)

	r.mu.Lock()
	r.lastLevel[coin] = lv
	r.mu.Unlock()

	r.bus.Publish(events.Event{Type: events.EventSignalUpdate, Data: map[string]interface{}{
		"coin":        coin,
		"long_level":  lv.LongLevel,
		"short_level": lv.ShortLevel,
		"active_tfs":  lv.ActiveTimeframes,
	}})

	r.controller.OnTick(ctx, quote, lv)
}

// predictTimeframe computes one timeframe's predicted candle. Returns nil
// for an INACTIVE timeframe (untrained, no closed candles yet, or a fetch
// failure) so it drops out of the level count.
func (r *Runner) predictTimeframe(ctx context.Context, coin string, tf market.Timeframe) *predSnapshot {
	candles, err := r.client.GetCandles(ctx, coin, tf, r.extractor.Window())
	if err != nil {
		r.logger.Warn("candle fetch failed", "coin", coin, "timeframe", string(tf), "error", err)
		return nil
	}

	current, err := r.extractor.FromCandles(candles)
	if err != nil {
		return nil
	}

	pc, err := r.pred.Predict(coin, tf, current)
	if err != nil {
		if !errors.Is(err, patterns.ErrNoData) {
			r.logger.Warn("prediction failed", "coin", coin, "timeframe", string(tf), "error", err)
		}
		return nil
	}
	// The predicted candle opens where the last closed candle ends.
	return &predSnapshot{pc: pc, openTime: candles[len(candles)-1].CloseTime}
}

// closeLoop sleeps until each boundary of tf, then reconciles weights for
// every coin against the candle that just closed.
func (r *Runner) closeLoop(ctx context.Context, tf market.Timeframe) {
	defer r.wg.Done()

	for {
		now := time.Now()
		wait := r.nextBoundary(ctx, tf, now).Sub(now) + closeGrace

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		for _, coin := range r.cfg.Coins {
			if ctx.Err() != nil {
				return
			}
			r.reconcileClose(ctx, coin, tf)
		}
	}
}

// nextBoundary finds the next candle close for tf. Venue candles set the
// alignment (3d candles do not sit on wall-clock multiples of 72h);
// wall-clock truncation is only the fallback when no candle is available.
func (r *Runner) nextBoundary(ctx context.Context, tf market.Timeframe, now time.Time) time.Time {
	d := tf.Duration()
	if len(r.cfg.Coins) > 0 {
		candles, err := r.client.GetCandles(ctx, r.cfg.Coins[0], tf, 1)
		if err == nil && len(candles) > 0 && !candles[len(candles)-1].CloseTime.IsZero() {
			next := candles[len(candles)-1].CloseTime
			for !next.After(now) {
				next = next.Add(d)
			}
			return next
		}
	}
	return now.Truncate(d).Add(d)
}

// reconcileClose fetches the candle that just closed and folds its
// realized high/low back into the weights of the patterns that shaped the
// prediction made for that candle.
func (r *Runner) reconcileClose(ctx context.Context, coin string, tf market.Timeframe) {
	candles, err := r.client.GetCandles(ctx, coin, tf, 1)
	if err != nil || len(candles) == 0 {
		r.logger.Warn("closed-candle fetch failed, skipping reconcile",
			"coin", coin, "timeframe", string(tf), "error", err)
		return
	}
	closed := candles[len(candles)-1]

	pc := r.takeSnapshot(coin, tf, closed.OpenTime)
	if pc == nil {
		return
	}

	realized := patterns.Outcome{
		High: closed.High/pc.RefPrice - 1,
		Low:  closed.Low/pc.RefPrice - 1,
	}
	if err := r.updater.Reconcile(coin, tf, pc.ContributingIDs, realized); err != nil {
		if patterns.IsNotFound(err) {
			r.logger.Warn("reconcile skipped unknown patterns", "coin", coin, "timeframe", string(tf))
		} else {
			r.logger.Error("weight reconcile failed", "coin", coin, "timeframe", string(tf), "error", err)
		}
	}

	r.bus.Publish(events.Event{Type: events.EventPredictionUpdate, Data: map[string]interface{}{
		"coin":      coin,
		"timeframe": string(tf),
		"patterns":  len(pc.ContributingIDs),
	}})
}

// takeSnapshot returns the prediction made for the candle that opened at
// openTime, or nil when none is cached. Each candle reconciles at most
// once; a displaced previous-cycle snapshot is consumed on use.
func (r *Runner) takeSnapshot(coin string, tf market.Timeframe, openTime time.Time) *predictor.PredictedCandle {
	key := predKey{coin, tf}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastReconciled[key].Equal(openTime) {
		return nil
	}
	if snap, ok := r.lastPreds[key]; ok && snap.openTime.Equal(openTime) {
		r.lastReconciled[key] = openTime
		return snap.pc
	}
	if snap, ok := r.prevPreds[key]; ok && snap.openTime.Equal(openTime) {
		delete(r.prevPreds, key)
		r.lastReconciled[key] = openTime
		return snap.pc
	}
	return nil
}
