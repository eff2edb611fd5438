package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide zerolog logger and returns it.
// OVERLAY_LOG_LEVEL selects the level; OVERLAY_LOG_FORMAT=json disables the
// console writer for machine-readable output.
func InitLogger(app string) zerolog.Logger {
	level := zerolog.InfoLevel
	if v, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("OVERLAY_LOG_LEVEL")))); err == nil && v != zerolog.NoLevel {
		level = v
	}
	var logger zerolog.Logger
	if strings.EqualFold(strings.TrimSpace(os.Getenv("OVERLAY_LOG_FORMAT")), "json") {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	logger = logger.Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
