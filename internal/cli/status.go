package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Craig-0219/potato-autoA/internal/clock"
	"github.com/Craig-0219/potato-autoA/internal/state"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

var statusCmd = &cobra.Command{
	Use:   "status [task]",
	Short: "Show run state",
	Long: `Shows the run lock, today's recipient count and, per task, the
checkpoint and the latest report.

Without arguments, lists every task that has run state.
With a task name or task file, shows detailed information for that task.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if err := showGlobal(cmd.Context(), out, env); err != nil {
		return err
	}
	fmt.Fprintln(out)

	if len(args) == 0 {
		return listTasks(out, env.store)
	}
	name, err := taskName(args[0])
	if err != nil {
		return err
	}
	return showTask(out, env.store, name)
}

// showGlobal prints the state shared by every task: the lock and the
// daily counter.
func showGlobal(ctx context.Context, w io.Writer, env *environment) error {
	s := newStyles(w)

	lock := state.NewRunLock(env.store.LockPath())
	info, err := lock.Holder()
	if err != nil {
		return err
	}
	active, err := lock.IsActive()
	if err != nil {
		return err
	}
	switch {
	case info == nil:
		fmt.Fprintln(w, s.field("lock", s.muted.Render("free")))
	case active:
		fmt.Fprintln(w, s.field("lock", s.warning.Render("held")+
			fmt.Sprintf(" by %s (pid %d, run %s, since %s)", info.Task, info.PID, info.RunID, info.AcquiredAt.Format(time.DateTime))))
	default:
		fmt.Fprintln(w, s.field("lock", s.muted.Render(fmt.Sprintf("stale (pid %d is gone)", info.PID))))
	}

	today, err := dailyCount(ctx, env)
	if err != nil {
		return err
	}
	limit := "no daily cap"
	if c := env.cfg.Throttle.DailyCap; c > 0 {
		limit = fmt.Sprintf("of %d", c)
	}
	fmt.Fprintln(w, s.field("today", fmt.Sprintf("%d %s", today, s.muted.Render(limit))))
	return nil
}

// dailyCount reads today's counter without creating the database. A
// counter left from an earlier day reads as zero.
func dailyCount(ctx context.Context, env *environment) (int, error) {
	if _, err := os.Stat(env.store.CountersPath()); os.IsNotExist(err) {
		return 0, nil
	}
	counters, err := state.OpenCounterStore(env.store.CountersPath())
	if err != nil {
		return 0, err
	}
	defer counters.Close()

	limiter := throttle.New(throttle.Config{
		DailyCap:   env.cfg.Throttle.DailyCap,
		CounterKey: env.cfg.Throttle.CounterKey,
	}, counters, clock.Real{})
	return limiter.Today(ctx)
}

func listTasks(w io.Writer, store *state.Store) error {
	tasks, err := store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	type row struct {
		task, result, resume string
	}
	var rows []row
	taskWidth := len("TASK")
	resultWidth := len("LAST RESULT")
	for _, name := range tasks {
		r := row{task: name, result: "-", resume: "-"}
		rep, err := store.LatestReport(name)
		if err != nil {
			return fmt.Errorf("failed to load report for %s: %w", name, err)
		}
		if rep != nil {
			r.result = rep.ExitReason + stopSuffix(rep.StopReason)
		}
		cp, err := store.LoadCheckpoint(context.Background(), name)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint for %s: %w", name, err)
		}
		if cp != nil && cp.RecipientIndex >= 0 {
			r.resume = fmt.Sprintf("recipient %d", cp.RecipientIndex+1)
		}
		taskWidth = max(taskWidth, len(r.task))
		resultWidth = max(resultWidth, len(r.result))
		rows = append(rows, r)
	}

	fmt.Fprintf(w, "%-*s  %-*s  %s\n", taskWidth, "TASK", resultWidth, "LAST RESULT", "RESUMES AT")
	fmt.Fprintf(w, "%s  %s  %s\n", strings.Repeat("-", taskWidth), strings.Repeat("-", resultWidth), "----------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", taskWidth, r.task, resultWidth, r.result, r.resume)
	}
	return nil
}

func showTask(w io.Writer, store *state.Store, name string) error {
	s := newStyles(w)
	fmt.Fprintln(w, s.field("task", s.title.Render(name)))

	cp, err := store.LoadCheckpoint(context.Background(), name)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	renderCheckpoint(w, cp)

	runs, err := store.ListRuns(name)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, s.field("runs", fmt.Sprintf("%d", len(runs))))

	rep, err := store.LatestReport(name)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if rep == nil {
		fmt.Fprintln(w, s.field("last run", s.muted.Render("none")))
		return nil
	}
	fmt.Fprintln(w)
	renderSummary(w, rep)
	return nil
}
