// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output. Ignored when Debug is set.
	Level LogLevel

	// Debug forces the debug level.
	Debug bool

	// Quiet raises the floor to warn unless Debug is set.
	Quiet bool

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// FromFlags maps the debug and verbose switches to a configuration: debug
// wins, verbose keeps info, otherwise only warnings and errors are logged.
func FromFlags(debug, verbose bool) Config {
	cfg := DefaultConfig()
	cfg.Debug = debug
	cfg.Quiet = !verbose
	return cfg
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := cfg.level()
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

func (c Config) level() zerolog.Level {
	switch {
	case c.Debug:
		return zerolog.DebugLevel
	case c.Quiet:
		if l := parseLevel(c.Level); l > zerolog.WarnLevel {
			return l
		}
		return zerolog.WarnLevel
	default:
		return parseLevel(c.Level)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-request flow
//   - Limiter waits and available tokens
//   - Retry backoff (attempt, delay, error class)
//   - Proxy picks, cache hits and revalidations
//
// Info: Session lifecycle
//   - Client created (backend, concurrency, rate limit)
//   - Proxy and user-agent pool summaries
//
// Warn: Degraded operation
//   - Filtered proxies, cooldowns
//   - Exhausted retries
//   - Cache errors (request goes to the backend)
//   - Batches completed with nil placeholders
//
// Error: Batches ending in a partial failure
//
// Context Fields:
//   - component: emitting package
//   - batch_id: one id per batch
//   - key, url: item identity
//   - backend: active backend name
//   - error_class: client, server, rate_limit, network, validation, canceled
//   - attempt, retry, max_retries, backoff
