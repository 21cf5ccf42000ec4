package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportRecordsAndEmitsInOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sink := NewMemorySink()
	r := New("run-1", "greet", start, sink)

	require.NoError(t, r.Start())
	step := StepOutcome{Phase: PhaseRecipient, RecipientIndex: 0, RecipientKey: "uid:u1", StepIndex: 0, Action: "locate_click", Kind: OutcomeNotFound, Attempts: 3, RetriesUsed: 2}
	require.NoError(t, r.AddStep(step))
	require.NoError(t, r.AddRecipient(RecipientOutcome{Index: 0, Key: "uid:u1", Status: StatusFailed, Failure: OutcomeNotFound}))
	require.NoError(t, r.AddRecipient(RecipientOutcome{Index: 1, Key: "uid:u2", Status: StatusDeferred}))
	require.NoError(t, r.Finish(start.Add(time.Minute), "global_stop", "daily_cap reached", nil))

	events := sink.Events()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, EventRunFinished, events[4].Type)

	got, err := events[1].StepData()
	require.NoError(t, err)
	if diff := cmp.Diff(step, *got); diff != "" {
		t.Errorf("step outcome mismatch (-want +got):\n%s", diff)
	}

	_, err = events[1].RecipientData()
	assert.Error(t, err)

	assert.Equal(t, map[RecipientStatus]int{StatusFailed: 1, StatusDeferred: 1}, r.Counts())
	assert.Equal(t, time.Minute, r.Duration())
	assert.Equal(t, "daily_cap reached", r.StopReason)

	o, ok := r.RecipientByKey("uid:u2")
	require.True(t, ok)
	assert.Equal(t, StatusDeferred, o.Status)
	require.Len(t, r.Steps, 1)
	assert.Equal(t, 0, r.Steps[0].RecipientIndex)
}

func TestReportFinishRecordsError(t *testing.T) {
	t.Parallel()

	r := New(NewRunID(), "t", time.Now())
	require.NoError(t, r.Finish(time.Now(), "fatal", "", errors.New("window lost")))
	assert.Equal(t, "window lost", r.Error)
	assert.Len(t, r.RunID, 36)
}

func TestFileSinkRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs", "events.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	r := New("run-2", "greet", time.Now(), sink)
	require.NoError(t, r.Start())
	require.NoError(t, r.AddRecipient(RecipientOutcome{Index: 0, Key: "name:Bob", Status: StatusSkipped, Reason: "blacklisted"}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.Error(t, sink.Emit(&Event{}))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	rec, err := events[1].RecipientData()
	require.NoError(t, err)
	assert.Equal(t, "blacklisted", rec.Reason)
}

func TestReadEventsMissingFile(t *testing.T) {
	t.Parallel()

	events, err := ReadEvents(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOutcomeKindTolerable(t *testing.T) {
	t.Parallel()

	assert.True(t, OutcomeNotFound.Tolerable())
	assert.True(t, OutcomeTimeout.Tolerable())
	assert.True(t, OutcomeAssertionFailed.Tolerable())
	assert.False(t, OutcomeInputFailure.Tolerable())
	assert.False(t, OutcomeFatal.Tolerable())
}

func TestEvidencePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("logs", "abc", "r3-step5.png"), EvidencePath("logs", "abc", 3, 5))
	assert.Equal(t, filepath.Join("logs", "abc", "main-step0.png"), EvidencePath("logs", "abc", -1, 0))
	assert.Equal(t, filepath.Join("logs", "abc", "done.png"), NamedEvidencePath("logs", "abc", "../done"))
}
