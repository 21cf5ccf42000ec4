package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/state"
)

// AssertStatuses asserts each recipient's status by key. Recipients not
// named in want are not checked.
func AssertStatuses(t *testing.T, rep *report.Report, want map[string]report.RecipientStatus) {
	t.Helper()
	require.NotNil(t, rep, "report is nil")

	for key, status := range want {
		o, ok := rep.RecipientByKey(key)
		if !assert.True(t, ok, "recipient %s missing from report", key) {
			continue
		}
		assert.Equal(t, status, o.Status, "recipient %s status mismatch", key)
	}
}

// AssertCounts asserts the report's per-status recipient counts.
func AssertCounts(t *testing.T, rep *report.Report, want map[report.RecipientStatus]int) {
	t.Helper()
	require.NotNil(t, rep, "report is nil")
	assert.Equal(t, want, rep.Counts())
}

// AssertExitReason asserts how the run ended.
func AssertExitReason(t *testing.T, rep *report.Report, reason string) {
	t.Helper()
	require.NotNil(t, rep, "report is nil")
	assert.Equal(t, reason, rep.ExitReason, "exit reason mismatch (error: %s)", rep.Error)
}

// AssertResumesAt asserts the checkpoint sits on the given recipient.
func AssertResumesAt(t *testing.T, cp *state.Checkpoint, recipientIndex int, done bool) {
	t.Helper()
	require.NotNil(t, cp, "checkpoint is nil")
	assert.Equal(t, recipientIndex, cp.RecipientIndex, "checkpoint recipient mismatch")
	assert.Equal(t, done, cp.RecipientDone, "checkpoint done mismatch")
}

// AssertNoCheckpoint asserts a task has no checkpoint.
func AssertNoCheckpoint(t *testing.T, cp *state.Checkpoint) {
	t.Helper()
	assert.Nil(t, cp, "expected no checkpoint")
}
