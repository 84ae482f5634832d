package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	global zerolog.Logger
)

// Get returns the process-wide logger, creating it on first use.
// Component loggers are derived from it via With().
func Get(component string) zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		level := zerolog.InfoLevel
		if raw := os.Getenv("STREAMWIN_LOG_LEVEL"); raw != "" {
			if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
				level = parsed
			}
		}

		var w = zerolog.MultiLevelWriter(os.Stderr)
		if os.Getenv("STREAMWIN_LOG_CONSOLE") != "" {
			w = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		}

		global = zerolog.New(w).Level(level).With().Timestamp().Logger()
	})

	return global.With().Str("component", component).Logger()
}
