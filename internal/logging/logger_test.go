package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerThreshold(t *testing.T) {
	emit := map[Level]func(*Logger, string){
		LevelDebug: func(l *Logger, m string) { l.Debug(m) },
		LevelInfo:  func(l *Logger, m string) { l.Info(m) },
		LevelWarn:  func(l *Logger, m string) { l.Warn(m) },
		LevelError: func(l *Logger, m string) { l.Error(m) },
	}
	order := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

	// logs.level values from autoa.yaml
	for _, name := range []string{"debug", "info", "warn", "error"} {
		t.Run(name, func(t *testing.T) {
			threshold := ParseLevel(name)
			for _, lvl := range order {
				var buf bytes.Buffer
				logger := New()
				logger.SetLevel(threshold)
				logger.SetOutput(&buf)

				emit[lvl](logger, "recipient done")
				if lvl >= threshold {
					assert.Contains(t, buf.String(), "recipient done", "level %d at %s", lvl, name)
				} else {
					assert.Empty(t, buf.String(), "level %d at %s", lvl, name)
				}
			}
		})
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	logger.With("run_id", "abc123").Warn("recipient failed")

	output := buf.String()
	assert.Contains(t, output, "WARN")
	assert.Contains(t, output, "recipient failed")
	assert.Contains(t, output, "run_id")
	assert.Contains(t, output, "abc123")
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	logger.WithFields(map[string]interface{}{
		"task":      "greet",
		"recipient": "alice",
	}).Error("step failed")

	output := buf.String()
	assert.Contains(t, output, "ERROR")
	assert.Contains(t, output, "greet")
	assert.Contains(t, output, "alice")
}

func TestLoggerInlineKeyVals(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	logger.Warn("locate exhausted", "error", errors.New("no match"), "attempts", 3)

	output := buf.String()
	assert.Contains(t, output, "locate exhausted")
	assert.Contains(t, output, "no match")
	assert.Contains(t, output, "attempts")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(&buf)

	_ = logger.With("run_id", "abc123")
	logger.Info("parent logger")

	assert.NotContains(t, buf.String(), "abc123")
}

func TestChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	child := logger.With("component", "engine")

	child.Info("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelInfo)
	child.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelWarn, ParseLevel("loud"))
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)

	Debug("debug message")
	assert.Empty(t, buf.String())

	Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")

	buf.Reset()
	With("component", "test").Error("error message")
	assert.Contains(t, buf.String(), "component")
}
