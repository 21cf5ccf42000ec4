package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextWithTestDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := ContextWithTestDeadline(t, 100*time.Millisecond)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")
	assert.Greater(t, time.Until(deadline), time.Duration(0))
}

func TestContextWithTestDeadlineBuffer(t *testing.T) {
	t.Parallel()

	// A buffer longer than any test deadline forces the fallback.
	ctx, cancel := ContextWithTestDeadlineBuffer(t, 200*time.Millisecond, 1000*time.Hour)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.InDelta(t, 0.2, time.Until(deadline).Seconds(), 0.1)
}

func TestRunContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := RunContext(t)
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done before cancel")
	default:
	}
	cancel()
	<-ctx.Done()
}
