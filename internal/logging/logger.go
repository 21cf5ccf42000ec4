// Package logging provides structured logging for autoa with consistent formatting
// and context support. It wraps a zap sugared logger to provide leveled logging
// with structured key-value pairs for debugging and run forensics.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is for verbose debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for recoverable errors and warnings.
	LevelWarn
	// LevelError is for significant errors that may impact a run.
	LevelError
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a level name to a Level. Unknown names map to LevelWarn.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "error":
		return LevelError
	default:
		return LevelWarn
	}
}

// Logger provides structured logging with context.
type Logger struct {
	mu     sync.RWMutex
	level  zap.AtomicLevel
	out    io.Writer
	fields []interface{}
	sugar  *zap.SugaredLogger
}

var (
	// defaultLogger is the package-level logger.
	defaultLogger = New()
)

// New creates a new Logger writing to stderr at warn level.
func New() *Logger {
	l := &Logger{
		level: zap.NewAtomicLevelAt(zapcore.WarnLevel),
		out:   os.Stderr,
	}
	l.sugar = l.build(l.out, l.fields)
	return l
}

func (l *Logger) build(out io.Writer, fields []interface{}) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), l.level)
	return zap.New(core).Sugar().With(fields...)
}

// SetLevel sets the minimum log level. Children created with With share it.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(zapLevels[level])
}

// SetOutput redirects the logger to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.sugar = l.build(w, l.fields)
}

// With returns a new Logger with an additional context field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new Logger with multiple additional context fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make([]interface{}, 0, len(l.fields)+2*len(fields))
	newFields = append(newFields, l.fields...)
	for k, v := range fields {
		newFields = append(newFields, k, v)
	}

	child := &Logger{
		level:  l.level,
		out:    l.out,
		fields: newFields,
	}
	child.sugar = child.build(child.out, child.fields)
	return child
}

func (l *Logger) current() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyVals ...interface{}) {
	l.current().Debugw(msg, keyVals...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyVals ...interface{}) {
	l.current().Infow(msg, keyVals...)
}

// Warn logs at warn level (for recoverable errors).
func (l *Logger) Warn(msg string, keyVals ...interface{}) {
	l.current().Warnw(msg, keyVals...)
}

// Error logs at error level (for significant errors).
func (l *Logger) Error(msg string, keyVals ...interface{}) {
	l.current().Errorw(msg, keyVals...)
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.current().Sync()
}

// Package-level functions that use the default logger.

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output for the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// With returns a new Logger with additional context from the default logger.
func With(key string, value interface{}) *Logger {
	return defaultLogger.With(key, value)
}

// WithFields returns a new Logger with multiple additional context fields.
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// Debug logs at debug level using the default logger.
func Debug(msg string, keyVals ...interface{}) {
	defaultLogger.Debug(msg, keyVals...)
}

// Info logs at info level using the default logger.
func Info(msg string, keyVals ...interface{}) {
	defaultLogger.Info(msg, keyVals...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, keyVals ...interface{}) {
	defaultLogger.Warn(msg, keyVals...)
}

// Error logs at error level using the default logger.
func Error(msg string, keyVals ...interface{}) {
	defaultLogger.Error(msg, keyVals...)
}
