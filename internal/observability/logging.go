package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is stamped on every log line so a shared sink can be filtered
const ServiceName = "parimutuel"

// LogOptions configures a logger. The zero value logs info-level JSON to stdout.
type LogOptions struct {
	Level  string    // debug, info, warn or error
	Format string    // json or console
	Out    io.Writer // defaults to stdout
}

// NewLogger builds a logger from PARI_LOG_LEVEL and PARI_LOG_FORMAT.
// Used by the one-shot tools that do not load the full config.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithOptions(component, LogOptions{
		Level:  os.Getenv("PARI_LOG_LEVEL"),
		Format: os.Getenv("PARI_LOG_FORMAT"),
	})
}

// NewLoggerWithOptions builds the service logger. Every line carries the
// service, component and host fields.
func NewLoggerWithOptions(component string, opts LogOptions) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano}
	}

	ctx := zerolog.New(out).
		Level(ParseLogLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", ServiceName).
		Str("component", component)
	if host, err := os.Hostname(); err == nil {
		ctx = ctx.Str("host", host)
	}
	return ctx.Logger()
}

// ForMarket scopes a logger to one market facet
func ForMarket(logger zerolog.Logger, token, facet string) zerolog.Logger {
	return logger.With().Str("token", token).Str("facet", facet).Logger()
}

// ParseLogLevel maps a config level to zerolog. Unknown values log at info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
