package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/engine"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/state"
	"github.com/Craig-0219/potato-autoA/internal/testutil"
)

// setupCLI points the command globals at a fresh workspace and replaces
// the driver with a mock that finds every sample template. Tests using it
// must not run in parallel.
func setupCLI(t *testing.T) (*testutil.Workspace, *ports.MockDriver) {
	t.Helper()

	ws := testutil.SetupWorkspace(t)
	drv := ports.NewMockDriver()
	drv.SetMatch(ws.Path("home.png"), ports.Point{X: 10, Y: 10})
	drv.SetMatch(ws.Path("chat.png"), ports.Point{X: 100, Y: 200})

	oldDriver := newDriver
	newDriver = func(config.Driver) (ports.Driver, error) { return drv, nil }

	configPath = ws.ConfigPath
	dataDir = ws.DataDir
	verbose = false
	runOpts, dryOpts, schedOpts = runOptions{}, runOptions{}, runOptions{}
	validateVars = nil
	schedCron, schedNow = "", false
	reportRunID, reportYAML, reportJSON, reportSteps = "", false, false, false

	t.Cleanup(func() {
		newDriver = oldDriver
		configPath = config.DefaultConfigFile
		dataDir = ""
	})
	return ws, drv
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	// cobra keeps the context from a subcommand's first execution; clear
	// it so each call inherits ctx instead of a previous, cancelled one.
	for _, sub := range rootCmd.Commands() {
		sub.SetContext(nil)
	}
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailed},
		{"exit error", exitError(ExitLocked, errors.New("busy")), ExitLocked},
		{"wrapped exit error", fmt.Errorf("ctx: %w", exitError(ExitCancelled, context.Canceled)), ExitCancelled},
		{"config validation", config.ValidationError{Field: "vision.timeout_sec", Message: "must be positive"}, ExitDefinition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitErrorNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, exitError(ExitFailed, nil))
}

func TestResultError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  engine.Result
		want int
	}{
		{"completed", engine.Result{Reason: engine.ExitReasonCompleted}, ExitOK},
		{"global stop", engine.Result{Reason: engine.ExitReasonGlobalStop, StopReason: "daily_cap reached"}, ExitOK},
		{"failed", engine.Result{Reason: engine.ExitReasonFailed}, ExitFailed},
		{"fatal", engine.Result{Reason: engine.ExitReasonFatal, Err: errors.New("jump cap")}, ExitFailed},
		{"definition", engine.Result{Reason: engine.ExitReasonDefinitionError, Err: errors.New("bad csv")}, ExitDefinition},
		{"locked", engine.Result{Reason: engine.ExitReasonLocked, Err: state.ErrLocked}, ExitLocked},
		{"cancelled", engine.Result{Reason: engine.ExitReasonCancelled, Err: context.Canceled}, ExitCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := resultError(tt.res)
			assert.Equal(t, tt.want, ExitCode(err))
			if tt.res.Err != nil {
				assert.ErrorIs(t, err, tt.res.Err)
			}
		})
	}
}

func TestRun(t *testing.T) {
	ws, drv := setupCLI(t)

	out, err := execute(t, "run", ws.TaskPath)
	require.NoError(t, err, out)

	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Alice (u1)")
	assert.Contains(t, out, "blacklisted")
	assert.Contains(t, out, "3 of 3 recipients finished, 100% of attempts succeeded")
	assert.Equal(t, []string{"Hi Alice", "Hi Cara"}, drv.CallsOf("type"))

	store := ws.Store()
	rep, err := store.LatestReport("greet")
	require.NoError(t, err)
	testutil.AssertExitReason(t, rep, "completed")
	testutil.AssertStatuses(t, rep, map[string]report.RecipientStatus{
		"uid:u1": report.StatusSuccess,
		"uid:u2": report.StatusSkipped,
		"uid:u3": report.StatusSuccess,
	})

	events, err := report.ReadEvents(store.EventsPath("greet", rep.RunID))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, report.EventRunStarted, events[0].Type)
	assert.Equal(t, report.EventRunFinished, events[len(events)-1].Type)

	cp, err := store.LoadCheckpoint(context.Background(), "greet")
	require.NoError(t, err)
	testutil.AssertNoCheckpoint(t, cp)

	_, err = os.Stat(store.LockPath())
	assert.True(t, os.IsNotExist(err), "lock should be released")
}

func TestRunExportsYAML(t *testing.T) {
	ws, _ := setupCLI(t)

	out, err := execute(t, "run", ws.TaskPath, "--yaml", "--steps")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Report exported to")
	assert.Contains(t, out, "Steps")

	rep, err := ws.Store().LatestReport("greet")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.Store().RunDir("greet", rep.RunID), "report.yaml"))
	assert.NoError(t, err)
}

func TestRunVarOverride(t *testing.T) {
	ws, drv := setupCLI(t)

	_, err := execute(t, "run", ws.TaskPath, "--var", "greeting=Hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello Alice", "Hello Cara"}, drv.CallsOf("type"))
}

func TestRunEnvFile(t *testing.T) {
	ws, drv := setupCLI(t)
	testutil.WriteTestFile(t, ws.DataDir, ".env", []byte("greeting=Yo\n"))

	_, err := execute(t, "run", ws.TaskPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yo Alice", "Yo Cara"}, drv.CallsOf("type"))
}

func TestRunRecipientFlag(t *testing.T) {
	ws, drv := setupCLI(t)

	_, err := execute(t, "run", ws.TaskPath, "--recipient", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi Cara"}, drv.CallsOf("type"))
}

func TestRunPreflightFailure(t *testing.T) {
	ws, drv := setupCLI(t)
	require.NoError(t, os.Remove(ws.Path("chat.png")))

	_, err := execute(t, "run", ws.TaskPath)
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
	assert.Contains(t, err.Error(), "chat.png")
	assert.Empty(t, drv.InputCalls(), "no input before preflight passes")

	// The mock still matches the template once the check is skipped.
	_, err = execute(t, "run", ws.TaskPath, "--skip-preflight")
	assert.NoError(t, err)
}

func TestRunWindowMissing(t *testing.T) {
	ws, drv := setupCLI(t)
	drv.SetFocus("LINE", false)

	_, err := execute(t, "run", ws.TaskPath)
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
	assert.Contains(t, err.Error(), "LINE")
}

func TestRunBadTask(t *testing.T) {
	ws, _ := setupCLI(t)
	ws.Write(t, "broken.yaml", "name: broken\nsteps:\n  - bogus_action: 1\n")

	_, err := execute(t, "run", ws.Path("broken.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
}

func TestRunBadConfig(t *testing.T) {
	ws, _ := setupCLI(t)
	ws.Write(t, "autoa.yaml", "vision:\n  timeout_sec: 0\n")

	_, err := execute(t, "run", ws.TaskPath)
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
}

func TestRunLocked(t *testing.T) {
	ws, drv := setupCLI(t)
	store := ws.Store()
	lock := fmt.Sprintf(`{"pid":%d,"run_id":"other","task":"greet"}`, os.Getpid())
	testutil.WriteTestFile(t, filepath.Dir(store.LockPath()), filepath.Base(store.LockPath()), []byte(lock))

	_, err := execute(t, "run", ws.TaskPath)
	require.Error(t, err)
	assert.Equal(t, ExitLocked, ExitCode(err))
	assert.Empty(t, drv.InputCalls())
}

func TestDryRun(t *testing.T) {
	ws, drv := setupCLI(t)

	out, err := execute(t, "dryrun", ws.TaskPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "dry run")
	assert.Empty(t, drv.InputCalls(), "dry run must not send input")
	assert.NotEmpty(t, drv.CallsOf("highlight"))

	rep, err := ws.Store().LatestReport("greet")
	require.NoError(t, err)
	assert.True(t, rep.DryRun)

	_, err = os.Stat(ws.Store().CountersPath())
	require.NoError(t, err)
	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "today")
	assert.Contains(t, out, "0 ")
}

func TestValidate(t *testing.T) {
	ws, drv := setupCLI(t)

	out, err := execute(t, "validate", ws.TaskPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "3 loaded, 2 eligible")
	assert.Contains(t, out, "1 blacklisted")
	assert.Empty(t, drv.GetCalls(), "validate must not touch the screen")
}

func TestValidateUnresolvedPlaceholder(t *testing.T) {
	ws, _ := setupCLI(t)
	ws.Write(t, "recipients.csv", "name,uid\nAlice,u1\n")
	ws.Write(t, "greet.yaml", `name: greet
steps:
  - for_each_recipient: {}
for_each_recipient:
  source: recipients.csv
  steps_ref: per
lists:
  per:
    - type_text: "${nickname}"
`)

	_, err := execute(t, "validate", ws.TaskPath)
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
	assert.Contains(t, err.Error(), "nickname")

	_, err = execute(t, "validate", ws.TaskPath, "--var", "nickname=pal")
	assert.NoError(t, err)
}

func TestStatusDailyCountRollsOver(t *testing.T) {
	ws, _ := setupCLI(t)
	ctx := context.Background()

	counters, err := state.OpenCounterStore(ws.Store().CountersPath())
	require.NoError(t, err)
	require.NoError(t, counters.ResetIfNewDay(ctx, "recipients", time.Now().AddDate(0, 0, -1)))
	for range 4 {
		_, err := counters.Increment(ctx, "recipients")
		require.NoError(t, err)
	}
	require.NoError(t, counters.Close())

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `today\s+0 `, out)

	_, err = execute(t, "run", ws.TaskPath)
	require.NoError(t, err)
	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `today\s+2 `, out)
}

func TestStatus(t *testing.T) {
	ws, _ := setupCLI(t)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "No runs found.")

	_, err = execute(t, "run", ws.TaskPath)
	require.NoError(t, err)

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2 ")

	out, err = execute(t, "status", ws.TaskPath)
	require.NoError(t, err)
	assert.Contains(t, out, "none") // checkpoint cleared
	assert.Contains(t, out, "Run ")
}

func TestStatusShowsCheckpointAndLock(t *testing.T) {
	ws, _ := setupCLI(t)
	store := ws.Store()

	cp := state.NewCheckpoint("greet", "run-1")
	cp.RecipientIndex = 1
	cp.RecipientKey = "uid:u2"
	cp.StepIndex = 0
	cp.UpdatedAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveCheckpoint(context.Background(), cp))

	lock := fmt.Sprintf(`{"pid":%d,"run_id":"run-1","task":"greet"}`, os.Getpid())
	testutil.WriteTestFile(t, filepath.Dir(store.LockPath()), filepath.Base(store.LockPath()), []byte(lock))

	out, err := execute(t, "status", "greet")
	require.NoError(t, err)
	assert.Contains(t, out, "held")
	assert.Contains(t, out, "recipient 2 (uid:u2), after step 0")
	assert.Contains(t, out, "none") // no report yet

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "recipient 2")
}

func TestReport(t *testing.T) {
	ws, _ := setupCLI(t)

	_, err := execute(t, "report", "greet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs recorded")

	_, err = execute(t, "run", ws.TaskPath)
	require.NoError(t, err)

	out, err := execute(t, "report", "greet", "--steps")
	require.NoError(t, err)
	assert.Contains(t, out, "Cara (u3)")
	assert.Contains(t, out, "Steps")

	reportSteps = false
	out, err = execute(t, "report", ws.TaskPath, "--json")
	require.NoError(t, err)
	var rep report.Report
	testutil.MustUnmarshalJSON(t, []byte(out), &rep)
	assert.Equal(t, "greet", rep.Task)
	assert.Len(t, rep.Recipients, 3)

	reportJSON = false
	_, err = execute(t, "report", "greet", "--run", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no report")
}

func TestScheduleInvalidSpec(t *testing.T) {
	ws, _ := setupCLI(t)

	_, err := execute(t, "schedule", ws.TaskPath, "--cron", "not a cron")
	require.Error(t, err)
	assert.Equal(t, ExitDefinition, ExitCode(err))
}

func TestScheduleRunsNowUntilCancelled(t *testing.T) {
	ws, drv := setupCLI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"schedule", ws.TaskPath, "--cron", "@daily", "--now"})
	defer rootCmd.SetArgs(nil)
	for _, sub := range rootCmd.Commands() {
		sub.SetContext(nil)
	}

	err := rootCmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.String(), "Scheduled")
	assert.Contains(t, out.String(), "after 1 runs")
	assert.Equal(t, []string{"Hi Alice", "Hi Cara"}, drv.CallsOf("type"))
}

func TestTaskName(t *testing.T) {
	ws, _ := setupCLI(t)

	tests := []struct {
		arg  string
		want string
	}{
		{"greet", "greet"},
		{ws.TaskPath, "greet"},
		{"elsewhere/missing.yaml", "missing"},
	}
	for _, tt := range tests {
		got, err := taskName(tt.arg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.arg)
	}
}
