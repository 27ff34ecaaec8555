// Package logging configures the global zerolog logger and the startup
// summary shared by every binary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv selects the log level: debug, info, warn, error (default info).
const LevelEnv = "PRISM_LOG_LEVEL"

// Init configures the global logger from PRISM_LOG_LEVEL with a console
// writer on stderr.
func Init() {
	InitWithWriter(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitWithWriter is Init with an explicit destination. Lambda binaries pass
// os.Stdout so CloudWatch receives plain JSON lines.
func InitWithWriter(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnv)))
	log.Logger = log.Output(w)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
