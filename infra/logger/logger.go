package logger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/movedispatch/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

var consoleFormat atomic.Bool

// New returns a Logger for the given component.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// Configure sets the global minimum level and the output format of loggers
// created afterwards. Format is "json" or "console"; empty keeps the
// APP_ENV based default.
func Configure(level, format string) error {
	if level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		zerolog.SetGlobalLevel(lvl)
	}
	switch strings.ToLower(format) {
	case "":
	case "json":
		consoleFormat.Store(false)
	case "console":
		consoleFormat.Store(true)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
