package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 9 * * 1-5", false},
		{"*/30 * * * * *", false},
		{"@daily", false},
		{"@every 45m", false},
		{"", true},
		{"not a spec", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New("every tuesday", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")

	_, err = New("@daily", nil)
	assert.Error(t, err)
}

func TestNext(t *testing.T) {
	t.Parallel()

	s, err := New("0 9 * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local), s.Next(now))
	assert.Equal(t, "0 9 * * *", s.Spec())
}

func TestTriggerRefusesOverlap(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	s, err := New("@daily", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background()) }()
	<-started

	assert.ErrorIs(t, s.Trigger(context.Background()), ErrBusy)
	close(release)
	require.NoError(t, <-done)

	st := s.Stats()
	assert.Equal(t, int64(1), st.Runs)
	assert.Equal(t, int64(1), st.Skipped)
}

func TestTriggerCountsFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, err := New("@daily", func(context.Context) error { return boom })
	require.NoError(t, err)

	assert.ErrorIs(t, s.Trigger(context.Background()), boom)
	assert.Equal(t, Stats{Runs: 1, Failed: 1}, s.Stats())
}

func TestRunFiresAndStops(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, err := New("* * * * * *", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunCancelsActiveJob(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	s, err := New("* * * * * *", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	cancel()
	require.NoError(t, <-done)
	assert.True(t, cancelled.Load())
}
