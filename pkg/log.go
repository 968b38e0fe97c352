package pkg

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host controller driver component identifiers.
const (
	ComponentHost      Component = "host"
	ComponentHCD       Component = "hcd"
	ComponentMGR       Component = "mgr"
	ComponentHub       Component = "hub"
	ComponentPipe      Component = "pipe"
	ComponentTransfer  Component = "transfer"
	ComponentControl   Component = "control"
	ComponentInterrupt Component = "interrupt"
	ComponentHAL       Component = "hal"
	ComponentClass     Component = "class"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the USB stack.
	DefaultLogger *logrus.Logger

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	DefaultLogger = NewLogger(os.Stderr)
	DefaultLogger.SetLevel(logrus.WarnLevel)
}

// SetLogLevel sets the minimum log level for all USB stack logging.
func SetLogLevel(level logrus.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.SetLevel(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() logrus.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger.GetLevel()
}

// ParseLogLevel parses a level name such as "debug" or "warn".
func ParseLogLevel(name string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.WarnLevel, fmt.Errorf("%w; possible levels: %s", err, logrus.AllLevels)
	}
	return level, nil
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *logrus.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The output and level of the current logger are preserved.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	switch format {
	case LogFormatJSON:
		DefaultLogger.Formatter = &logrus.JSONFormatter{}
	default:
		DefaultLogger.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:       w,
		Formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer) *logrus.Logger {
	l := NewLogger(w)
	l.Formatter = &logrus.JSONFormatter{}
	return l
}

// Fields converts alternating key/value arguments into logrus fields.
// A trailing key without a value is recorded under "!BADKEY".
func Fields(component Component, args ...any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2+1)
	f["component"] = string(component)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		f[fmt.Sprint(args[i])] = args[i+1]
	}
	return f
}

func entry(component Component, args []any) *logrus.Entry {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	return logger.WithFields(Fields(component, args...))
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	entry(component, args).Debug(msg)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	entry(component, args).Info(msg)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	entry(component, args).Warn(msg)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	entry(component, args).Error(msg)
}
