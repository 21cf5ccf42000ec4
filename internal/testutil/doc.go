// Package testutil provides shared test fixtures and assertions for
// autoa.
//
// # Fixtures
//
// SetupWorkspace writes a complete workspace into a temp directory: a
// configuration with every delay zeroed (SampleConfig), a greeting task
// (SampleTask), its recipient, blacklist and unsubscribe files, and
// placeholder template images. Tests drive it with a ports.MockDriver.
//
// # Assertions
//
//   - AssertStatuses(t, rep, want) - recipient statuses by key
//   - AssertCounts(t, rep, want) - per-status counts
//   - AssertExitReason(t, rep, reason) - how the run ended
//   - AssertResumesAt(t, cp, i, done), AssertNoCheckpoint(t, cp)
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    ws := testutil.SetupWorkspace(t)
//	    ctx, cancel := testutil.RunContext(t)
//	    defer cancel()
//	    // ... run ws.TaskPath ...
//	    testutil.AssertStatuses(t, rep, map[string]report.RecipientStatus{"uid:u1": report.StatusSuccess})
//	}
package testutil
