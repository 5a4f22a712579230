// Command train bootstraps the pattern store from historical candles and
// persists it, so the bot can start trading without retraining.
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"pattern-trading-bot/config"
	"pattern-trading-bot/internal/database"
	"pattern-trading-bot/internal/engine"
	"pattern-trading-bot/internal/exchange"
	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/patterns"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	coinsFlag := flag.String("coins", "", "comma-separated coins to train (default: config coins)")
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

	coins := cfg.Trading.Coins
	if *coinsFlag != "" {
		coins = coins[:0]
		for _, c := range strings.Split(*coinsFlag, ",") {
			if c = strings.TrimSpace(c); c != "" {
				coins = append(coins, strings.ToUpper(c))
			}
		}
	}
	if len(coins) == 0 {
		logger.Fatal("no coins to train")
	}

	client := exchange.NewRESTClient(
		cfg.Exchange.APIKey, cfg.Exchange.SecretKey,
		cfg.Exchange.BaseURL, cfg.Exchange.QuoteAsset,
	)

	extractor := patterns.NewExtractor(cfg.Predictor.WindowSize)
	store := patterns.NewStore(extractor.Dim())

	var sink engine.PatternSink
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
		sink = database.NewRepository(db)
	} else {
		logger.Warn("database disabled, training results will not be persisted")
	}

	trainer := engine.NewTrainer(engine.TrainerConfig{
		HistoryCandles: cfg.Predictor.HistoryCandles,
	}, client, store, extractor, sink, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	if err := trainer.Train(ctx, coins); err != nil {
		logger.Fatal("training failed", "error", err)
	}
	logger.Info("training complete", "coins", len(coins), "elapsed", time.Since(start))
}
