package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin structured logger used across the bot. Call sites pass
// alternating key/value pairs after the message:
//
//	logger.Info("order filled", "coin", "BTC", "price", 42000.5)
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // "json" or "console"
	Output string `json:"output"` // "stdout", "stderr", or file path
}

// New creates a logger from config. A nil config means info-level console
// output; invalid levels fall back to info.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{Level: "info", Format: "console"}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, ferr := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			output = os.Stdout
		} else {
			output = file
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.emit(l.zl.Debug(), msg, kv)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.emit(l.zl.Info(), msg, kv)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.emit(l.zl.Warn(), msg, kv)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.emit(l.zl.Error(), msg, kv)
}

func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.emit(l.zl.Fatal(), msg, kv)
}

func (l *Logger) emit(event *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			event.Str(key, v)
		case int:
			event.Int(key, v)
		case int64:
			event.Int64(key, v)
		case float64:
			event.Float64(key, v)
		case bool:
			event.Bool(key, v)
		case time.Duration:
			event.Dur(key, v)
		case error:
			event.AnErr(key, v)
		default:
			event.Interface(key, v)
		}
	}
	event.Msg(msg)
}
