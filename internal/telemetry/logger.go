// Package telemetry owns process-wide structured logging and (via its
// metrics subpackage) optional Prometheus counters for the protocol stack.
//
// Ownership boundary:
// - per-component zerolog.Logger construction
// - env-var level/format overrides
package telemetry

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "PL_LOG_LEVEL"
	EnvLogTimestamp = "PL_LOG_TIMESTAMP"
	EnvLogNoColor   = "PL_LOG_NOCOLOR"
)

// Logger returns a child logger tagged with component, the unit every
// facade and handler logs under (mailbox, serverconn, rwplanner, rwparser,
// channel, trace).
func Logger(component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}
	timestamp := true
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		timestamp = v
	}
	noColor := false
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		noColor = v
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	ctx := zerolog.New(writer).Level(level).With().Str("component", component)
	if timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Disabled returns a logger that discards everything.
func Disabled() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
