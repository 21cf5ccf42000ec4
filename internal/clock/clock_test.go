package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SleepAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), 250*time.Millisecond))
	require.NoError(t, f.Sleep(context.Background(), time.Second))

	assert.Equal(t, start.Add(1250*time.Millisecond), f.Now())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, time.Second}, f.Sleeps())
}

func TestFake_SleepCancelled(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.Sleeps())
}

func TestReal_SleepInterrupted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Real{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
