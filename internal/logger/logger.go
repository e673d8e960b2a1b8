package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG:  "\033[36m", // Cyan
		INFO:   "\033[32m", // Green
		WARN:   "\033[33m", // Yellow
		ERROR:  "\033[31m", // Red
		SILENT: "",
	}

	resetColor = "\033[0m"
)

// Logger provides leveled logging with module tags
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	useColor bool
	out      *log.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level != SILENT && level >= l.GetLevel()
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + levelNames[level] + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Module is a logger bound to a module tag. The zero value logs through the
// global logger with no tag.
type Module struct {
	name string
	l    *Logger
}

// For returns a module-bound view of the global logger. The global logger is
// resolved on every call, so For may be used before Init.
func For(module string) Module {
	return Module{name: module}
}

// For returns a module-bound view of l.
func (l *Logger) For(module string) Module {
	return Module{name: module, l: l}
}

func (m Module) target() *Logger {
	if m.l != nil {
		return m.l
	}
	return defaultLogger
}

// Debug logs a debug message for the module
func (m Module) Debug(format string, args ...interface{}) {
	if t := m.target(); t != nil {
		t.Debug(m.name, format, args...)
	}
}

// Info logs an info message for the module
func (m Module) Info(format string, args ...interface{}) {
	if t := m.target(); t != nil {
		t.Info(m.name, format, args...)
	}
}

// Warn logs a warning message for the module
func (m Module) Warn(format string, args ...interface{}) {
	if t := m.target(); t != nil {
		t.Warn(m.name, format, args...)
	}
}

// Error logs an error message for the module
func (m Module) Error(format string, args ...interface{}) {
	if t := m.target(); t != nil {
		t.Error(m.name, format, args...)
	}
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText lets LogLevel be used directly in YAML/flag configuration.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// UnmarshalText parses a level name.
func (l *LogLevel) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}
