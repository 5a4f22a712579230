package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pattern-trading-bot/config"
	"pattern-trading-bot/internal/api"
	"pattern-trading-bot/internal/database"
	"pattern-trading-bot/internal/engine"
	"pattern-trading-bot/internal/events"
	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
	"pattern-trading-bot/internal/patterns"
	"pattern-trading-bot/internal/predictor"
	"pattern-trading-bot/internal/strategy"
	"pattern-trading-bot/internal/trader"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(nil).Fatal("failed to load config", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	logger.Info("starting pattern trading bot",
		"coins", cfg.Trading.Coins, "paper_mode", cfg.Exchange.PaperMode)

	bus := events.NewBus()

	// Exchange client stack: REST data, optional websocket quotes on top,
	// simulated fills in paper mode.
	rest := exchange.NewRESTClient(
		cfg.Exchange.APIKey, cfg.Exchange.SecretKey,
		cfg.Exchange.BaseURL, cfg.Exchange.QuoteAsset,
	)
	var client exchange.Client = rest

	var stream *exchange.TickerStream
	if cfg.Exchange.UseStream {
		stream = exchange.NewTickerStream(
			cfg.Exchange.WSBaseURL, cfg.Exchange.QuoteAsset, cfg.Trading.Coins, logger)
		stream.Start()
		defer stream.Stop()
		client = exchange.NewStreamingClient(client, stream)
	}
	if cfg.Exchange.PaperMode {
		client = exchange.NewDryRunClient(client, logger)
	}

	// Pattern store and estimation.
	extractor := patterns.NewExtractor(cfg.Predictor.WindowSize)
	store := patterns.NewStore(extractor.Dim())
	pred := predictor.New(store, predictor.Config{KNeighbors: cfg.Predictor.KNeighbors})
	updater := patterns.NewUpdater(store, patterns.UpdaterConfig{
		LearnRate: cfg.Predictor.LearnRate,
		Tolerance: cfg.Predictor.Tolerance,
		MinFactor: cfg.Predictor.MinFactor,
		MaxFactor: cfg.Predictor.MaxFactor,
	})

	// Optional PostgreSQL persistence for patterns and the trade log.
	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("database connection failed", "error", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(ctx); err != nil {
			cancel()
			logger.Fatal("migrations failed", "error", err)
		}
		cancel()
		repo = database.NewRepository(db)

		// Write-behind persistence of weight updates.
		updater.OnUpdate = func(coin string, tf market.Timeframe, id string, weight float64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.UpdateWeight(ctx, id, weight); err != nil {
				logger.Warn("weight persistence failed", "id", id, "error", err)
			}
		}

		// Trade audit log.
		for _, t := range []events.EventType{events.EventEntry, events.EventDCA, events.EventExit} {
			eventType := t
			bus.Subscribe(eventType, func(ev events.Event) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				coin, _ := ev.Data["coin"].(string)
				price, _ := ev.Data["price"].(float64)
				qty, _ := ev.Data["qty"].(float64)
				err := repo.InsertTradeEvent(ctx, database.TradeEvent{
					Coin:       coin,
					EventType:  string(eventType),
					Price:      price,
					Quantity:   qty,
					OccurredAt: ev.Timestamp,
				})
				if err != nil {
					logger.Warn("trade event persistence failed", "error", err)
				}
			})
		}
	}

	// Optional Redis position-state persistence.
	var stateRepo trader.StateRepository
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		stateRepo = database.NewRedisPositionRepository(redisClient, logger)
	}

	// Trade state machine.
	window := trader.NewDCAWindow(
		time.Duration(cfg.Trading.DCAWindowHours)*time.Hour, cfg.Trading.MaxDCAPerWindow)

	strategyTF, _ := market.ParseTimeframe(cfg.Strategy.Timeframe)
	policy := strategy.NewPolicy(strategy.Config{
		Mode:           strategy.Mode(cfg.Strategy.Mode),
		Indicators:     cfg.Strategy.Indicators,
		ReplaceNeural:  cfg.Strategy.ReplaceNeural,
		SuperThreshold: cfg.Strategy.SuperThreshold,
		MinLongLevel:   cfg.Strategy.MinLongLevel,
		Timeframe:      strategyTF,
		CandleLimit:    cfg.Strategy.CandleLimit,
	}, client, logger)

	controller := trader.New(trader.Config{
		AllocationUSD:     cfg.Trading.AllocationUSD,
		DCALadder:         cfg.Trading.DCALadder,
		LevelDCAStages:    cfg.Trading.LevelDCAStages,
		PMStartNoDCAPct:   cfg.Trading.PMStartNoDCAPct,
		PMStartWithDCAPct: cfg.Trading.PMStartWithDCAPct,
		TrailingGapPct:    cfg.Trading.TrailingGapPct,
	}, client, window, bus, logger, policy, stateRepo)

	if stateRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := controller.Restore(ctx); err != nil {
			logger.Warn("position restore failed, starting flat", "error", err)
		}
		cancel()
	}

	// Bootstrap the pattern store: restore from the database when trained
	// patterns exist, otherwise train from historical candles.
	var sink engine.PatternSink
	if repo != nil {
		sink = repo
	}
	trainer := engine.NewTrainer(engine.TrainerConfig{
		HistoryCandles: cfg.Predictor.HistoryCandles,
	}, client, store, extractor, sink, logger)

	bootstrap(cfg, repo, trainer, extractor, logger)

	runner := engine.NewRunner(engine.Config{
		Coins:        cfg.Trading.Coins,
		EvalInterval: cfg.EvalIntervalDuration(),
	}, client, extractor, pred, updater, controller, bus, logger)
	runner.Start()
	defer runner.Stop()

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(api.Config{
			Port:           cfg.Server.Port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, runner, controller, repo, bus, logger)
		server.Start()
	}

	<-runner.Ready()
	logger.Info("engine ready, trading enabled")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("API shutdown failed", "error", err)
		}
		cancel()
	}
}

// bootstrap fills the pattern store, preferring persisted trained patterns
// over retraining from scratch.
func bootstrap(cfg *config.Config, repo *database.Repository, trainer *engine.Trainer, extractor *patterns.Extractor, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, coin := range cfg.Trading.Coins {
		for _, tf := range market.AllTimeframes() {
			if repo != nil {
				stored, err := repo.LoadPatterns(ctx, coin, tf, extractor.Dim())
				if err != nil {
					logger.Warn("pattern load failed, retraining",
						"coin", coin, "timeframe", string(tf), "error", err)
				} else if len(stored) > 0 {
					if err := trainer.Restore(coin, tf, stored); err == nil {
						continue
					}
					logger.Warn("pattern restore failed, retraining",
						"coin", coin, "timeframe", string(tf))
				}
			}
			if err := trainer.TrainPair(ctx, coin, tf); err != nil {
				logger.Fatal("training failed",
					"coin", coin, "timeframe", string(tf), "error", err)
			}
		}
	}
}
