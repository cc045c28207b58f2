// Package logging configures structured logging for the gateway.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. Levels follow zerolog names
// (trace, debug, info, warn, error); unknown levels fall back to info.
// With json true, events are emitted as raw JSON lines for collectors;
// otherwise a human-readable console writer is used.
func Setup(level string, json bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if json {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, so log
// lines can be filtered per subsystem (server, transfer, ratelimit, ...).
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
