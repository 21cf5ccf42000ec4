package testutil

import (
	"context"
	"testing"
	"time"
)

const (
	// DefaultRunTimeout bounds a whole task run against a mock driver.
	DefaultRunTimeout = 30 * time.Second

	// DefaultTestBuffer is subtracted from the test deadline to leave
	// time for cleanup before the test times out.
	DefaultTestBuffer = 5 * time.Second
)

// ContextWithTestDeadline returns a context that ends before the test's
// deadline, or after fallback if the test has none.
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer is ContextWithTestDeadline with a custom
// buffer. If the test deadline minus buffer is already past, fallback is
// used instead.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if time.Until(adjusted) > 0 {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// RunContext is the context for one task run in a test.
func RunContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultRunTimeout)
}
