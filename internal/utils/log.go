package utils

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the logger shared by every pipeline stage.
var Log zerolog.Logger

func SetLogger() {
	level := zerolog.InfoLevel
	if os.Getenv("ARCHON_DEBUG") != "" {
		level = zerolog.DebugLevel
	}

	Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
