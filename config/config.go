// Package config loads bot configuration from a JSON file with
// environment-variable overrides. A .env file, when present, is folded
// into the environment before overrides apply.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pattern-trading-bot/internal/market"
)

// Config is the full bot configuration.
type Config struct {
	Exchange  ExchangeConfig  `json:"exchange"`
	Trading   TradingConfig   `json:"trading"`
	Predictor PredictorConfig `json:"predictor"`
	Strategy  StrategyConfig  `json:"strategy"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
}

// ExchangeConfig holds venue connection settings.
type ExchangeConfig struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	BaseURL    string `json:"base_url"`
	WSBaseURL  string `json:"ws_base_url"`
	QuoteAsset string `json:"quote_asset"`
	// PaperMode routes orders to the simulated client.
	PaperMode bool `json:"paper_mode"`
	// UseStream layers websocket bookTicker quotes over REST.
	UseStream bool `json:"use_stream"`
}

// TradingConfig holds the trade-lifecycle parameters.
type TradingConfig struct {
	Coins             []string  `json:"coins"`
	EvalInterval      string    `json:"eval_interval"`
	AllocationUSD     float64   `json:"allocation_usd"`
	DCALadder         []float64 `json:"dca_ladder"`
	LevelDCAStages    int       `json:"level_dca_stages"`
	PMStartNoDCAPct   float64   `json:"pm_start_no_dca_pct"`
	PMStartWithDCAPct float64   `json:"pm_start_with_dca_pct"`
	TrailingGapPct    float64   `json:"trailing_gap_pct"`
	MaxDCAPerWindow   int       `json:"max_dca_per_window"`
	DCAWindowHours    int       `json:"dca_window_hours"`
}

// PredictorConfig holds pattern extraction and estimation tuning.
type PredictorConfig struct {
	WindowSize     int     `json:"window_size"`
	KNeighbors     int     `json:"k_neighbors"`
	HistoryCandles int     `json:"history_candles"`
	LearnRate      float64 `json:"learn_rate"`
	Tolerance      float64 `json:"tolerance"`
	MinFactor      float64 `json:"min_factor"`
	MaxFactor      float64 `json:"max_factor"`
}

// StrategyConfig holds the entry confirmation layer.
type StrategyConfig struct {
	Mode           string          `json:"mode"`
	Indicators     map[string]bool `json:"indicators"`
	ReplaceNeural  bool            `json:"replace_neural"`
	SuperThreshold float64         `json:"super_threshold"`
	MinLongLevel   int             `json:"min_long_level"`
	Timeframe      string          `json:"timeframe"`
	CandleLimit    int             `json:"candle_limit"`
}

// DatabaseConfig holds PostgreSQL settings. Enabled=false runs in-memory.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds position-state persistence settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load reads the JSON file (optional), folds in .env, and applies
// environment overrides. A missing file falls back to defaults.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", filename, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", filename, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL:    "https://api.binance.com",
			WSBaseURL:  "wss://stream.binance.com:9443",
			QuoteAsset: "USDT",
			PaperMode:  true,
			UseStream:  true,
		},
		Trading: TradingConfig{
			Coins:             []string{"BTC", "ETH"},
			EvalInterval:      "10s",
			AllocationUSD:     50,
			DCALadder:         []float64{-2.5, -5, -10, -20, -30, -40, -50},
			LevelDCAStages:    4,
			PMStartNoDCAPct:   5.0,
			PMStartWithDCAPct: 2.5,
			TrailingGapPct:    0.5,
			MaxDCAPerWindow:   2,
			DCAWindowHours:    24,
		},
		Predictor: PredictorConfig{
			WindowSize:     8,
			KNeighbors:     0,
			HistoryCandles: 1000,
			LearnRate:      0.10,
			Tolerance:      0.02,
			MinFactor:      0.50,
			MaxFactor:      1.10,
		},
		Strategy: StrategyConfig{
			Mode:           "selector",
			Indicators:     map[string]bool{},
			SuperThreshold: 0.6,
			MinLongLevel:   3,
			Timeframe:      "1h",
			CandleLimit:    120,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "pattern_bot",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// EvalIntervalDuration parses the evaluation interval.
func (c *Config) EvalIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Trading.EvalInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Trading.Coins) == 0 {
		return fmt.Errorf("config: at least one coin required")
	}
	if c.Trading.AllocationUSD <= 0 {
		return fmt.Errorf("config: allocation_usd must be positive")
	}
	for _, lvl := range c.Trading.DCALadder {
		if lvl >= 0 {
			return fmt.Errorf("config: dca_ladder levels must be negative, got %.2f", lvl)
		}
	}
	if c.Predictor.WindowSize <= 0 {
		return fmt.Errorf("config: window_size must be positive")
	}
	if c.Strategy.Timeframe != "" {
		if _, err := market.ParseTimeframe(c.Strategy.Timeframe); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if !c.Exchange.PaperMode && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("config: live mode requires api_key and secret_key")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Exchange.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", c.Exchange.APIKey)
	c.Exchange.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", c.Exchange.SecretKey)
	c.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", c.Exchange.BaseURL)
	c.Exchange.WSBaseURL = getEnvOrDefault("EXCHANGE_WS_BASE_URL", c.Exchange.WSBaseURL)
	c.Exchange.QuoteAsset = getEnvOrDefault("EXCHANGE_QUOTE_ASSET", c.Exchange.QuoteAsset)
	c.Exchange.PaperMode = getEnvBoolOrDefault("EXCHANGE_PAPER_MODE", c.Exchange.PaperMode)
	c.Exchange.UseStream = getEnvBoolOrDefault("EXCHANGE_USE_STREAM", c.Exchange.UseStream)

	if coins := os.Getenv("TRADING_COINS"); coins != "" {
		parts := strings.Split(coins, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, strings.ToUpper(p))
			}
		}
		if len(out) > 0 {
			c.Trading.Coins = out
		}
	}
	c.Trading.EvalInterval = getEnvOrDefault("TRADING_EVAL_INTERVAL", c.Trading.EvalInterval)
	c.Trading.AllocationUSD = getEnvFloatOrDefault("TRADING_ALLOCATION_USD", c.Trading.AllocationUSD)
	c.Trading.MaxDCAPerWindow = getEnvIntOrDefault("TRADING_MAX_DCA_PER_WINDOW", c.Trading.MaxDCAPerWindow)
	c.Trading.DCAWindowHours = getEnvIntOrDefault("TRADING_DCA_WINDOW_HOURS", c.Trading.DCAWindowHours)

	c.Predictor.WindowSize = getEnvIntOrDefault("PREDICTOR_WINDOW_SIZE", c.Predictor.WindowSize)
	c.Predictor.KNeighbors = getEnvIntOrDefault("PREDICTOR_K_NEIGHBORS", c.Predictor.KNeighbors)
	c.Predictor.HistoryCandles = getEnvIntOrDefault("PREDICTOR_HISTORY_CANDLES", c.Predictor.HistoryCandles)

	c.Database.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DATABASE_HOST", c.Database.Host)
	c.Database.Port = getEnvIntOrDefault("DATABASE_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DATABASE_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", c.Database.Password)
	c.Database.Database = getEnvOrDefault("DATABASE_NAME", c.Database.Database)
	c.Database.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", c.Database.SSLMode)

	c.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", c.Redis.Address)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvIntOrDefault("REDIS_DB", c.Redis.DB)

	c.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", c.Server.Enabled)
	c.Server.Port = getEnvIntOrDefault("SERVER_PORT", c.Server.Port)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnvOrDefault("LOG_OUTPUT", c.Logging.Output)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
