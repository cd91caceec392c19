// Package logging configures the process-wide zerolog logger. Adapted from
// the teacher's internal/logging package: same single Init entry point,
// same "open a file, build a leveled logger, install it as the global"
// shape, generalized to write to a configurable path (and, for local runs
// or tests, optionally also to stderr) instead of a hardcoded
// /var/log path.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init opens logFile (created if missing) and installs a leveled zerolog
// logger as the package-global log.Logger. When console is true, output is
// also duplicated to a human-readable console writer on stderr — used for
// interactive/dev runs, mirroring the teacher's debug-level startup
// message.
func Init(level zerolog.Level, logFile string, console bool) error {
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	writers := []io.Writer{f}
	if console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("log level set to DEBUG")
	}
	return nil
}
