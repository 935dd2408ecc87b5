// Package logging builds the zerolog logger used by both binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w in the given format ("console", "plain",
// "text" or "json") at the given level.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case "", "console", "plain", "text":
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					return strings.ToUpper(ll)
				}
				return "????"
			},
		}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q is not supported", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// MustStderr is New on stderr, falling back to info/console on bad settings.
func MustStderr(level, format string) zerolog.Logger {
	log, err := New(os.Stderr, level, format)
	if err != nil {
		log, _ = New(os.Stderr, "info", "console")
		log.Warn().Err(err).Msg("invalid logging settings, using defaults")
	}
	return log
}
