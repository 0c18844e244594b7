package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pion/logging"
)

var (
	loggerFactory = logging.NewDefaultLoggerFactory()

	mu      sync.Mutex
	loggers []scoped
)

type scoped struct {
	scope  string
	logger *logging.DefaultLeveledLogger
}

var levels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

// NewLogger returns a leveled logger for scope. It follows later SetLevel
// calls, so package level loggers are fine.
func NewLogger(scope string) logging.LeveledLogger {
	mu.Lock()
	defer mu.Unlock()

	l := logging.NewDefaultLeveledLoggerForScope(scope, levelFor(scope), loggerFactory.Writer)
	loggers = append(loggers, scoped{scope: scope, logger: l})
	return l
}

// SetLevel changes the default level of every logger, created before or
// after. PION_LOG_* scope overrides still win.
func SetLevel(name string) error {
	level, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("logging: unknown level %q", name)
	}

	mu.Lock()
	defer mu.Unlock()

	loggerFactory.DefaultLogLevel = level
	for _, l := range loggers {
		l.logger.SetLevel(levelFor(l.scope))
	}
	return nil
}

// levelFor must be called with mu held.
func levelFor(scope string) logging.LogLevel {
	if level, ok := loggerFactory.ScopeLevels[scope]; ok {
		return level
	}
	return loggerFactory.DefaultLogLevel
}
