package logger

import (
	"sync"

	"go.uber.org/zap"
)

// Log levels accepted in configs/config.yml (log_level).
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Output formats accepted in configs/config.yml (log_format).
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	// globalLogger holds the process logger built by the first Get call.
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process-wide logger configured with the provided level and
// format. Only the first call decides; later calls return the same instance.
func Get(level, format string) *Logger {
	once.Do(func() {
		globalLogger = newZapLogger(level, format)
	})
	return globalLogger
}

// Nop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger.With("component", component)}
}
