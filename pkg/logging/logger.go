// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is "json" (default) or "console".
	Format string `koanf:"format"`

	// Output defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// ParseLevel converts a configured level name to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Setup configures the global logger and returns it. An unknown level falls
// back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	if err != nil {
		logger.Warn().Err(err).Msg("Falling back to info level")
	}
	return logger
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: index hits, provider page requests and responses, state
// transitions of a fetch session.
//
// Info: completed fetch sessions, one line per served search, server
// startup and shutdown.
//
// Warn: gate contention (429), provider non-200 responses, failed index
// writes, fallback to defaults.
//
// Error: provider transport failures, index read failures, startup errors.
//
// Context Fields:
//   - component: emitting package ("upstream", "fetch-coordinator", ...)
//   - name: the searched name
//   - skip, total, count: provider page metadata
//   - delay: pacing delay applied
//   - state: fetch session state
//   - status: HTTP status returned or received
//   - error_class: provider error class (client, server, rate_limit, network, decode)
//   - records: number of records returned
//   - cache_hit: whether the index answered
//   - request_id: per-request id set by the HTTP layer
