package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/schedule"
)

var (
	schedOpts runOptions
	schedCron string
	schedNow  bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <task.yaml>",
	Short: "Run a task on a cron schedule",
	Long: `Runs a task every time the cron expression fires, until interrupted.

The expression takes five fields, an optional leading seconds field, or a
descriptor such as @daily or "@every 2h". Each run resumes from the
checkpoint, so a campaign split by the daily cap continues the next day.
A tick that fires while the previous run is still active is skipped.`,
	Example: `  autoa schedule greet.yaml --cron "30 9 * * 1-5"
  autoa schedule greet.yaml --cron @daily --now`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleTask(cmd, args[0])
	},
}

func init() {
	addRunFlags(scheduleCmd, &schedOpts)
	scheduleCmd.Flags().StringVar(&schedCron, "cron", "", "cron expression (required)")
	scheduleCmd.Flags().BoolVar(&schedNow, "now", false, "also run once immediately")
	_ = scheduleCmd.MarkFlagRequired("cron")
	rootCmd.AddCommand(scheduleCmd)
}

func scheduleTask(cmd *cobra.Command, taskPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// Fail fast on a broken task rather than at the first tick.
	if _, err := loadTask(taskPath); err != nil {
		return err
	}

	opts := schedOpts
	job := func(ctx context.Context) error {
		err := runTask(ctx, out, taskPath, opts)
		// --force and --from apply to the first run only.
		opts.Force = false
		opts.From = ""
		opts.Recipient = 0
		return err
	}
	sched, err := schedule.New(schedCron, job)
	if err != nil {
		return exitError(ExitDefinition, err)
	}

	fmt.Fprintf(out, "Scheduled %s on %q, next run at %s\n", taskPath, sched.Spec(), sched.Next(time.Now()).Format(time.DateTime))
	if schedNow {
		if err := sched.Trigger(ctx); err != nil && ExitCode(err) == ExitDefinition {
			return err
		} else if err != nil {
			logging.Warn("immediate run failed", "error", err)
		}
	}
	if err := sched.Run(ctx); err != nil {
		return err
	}
	st := sched.Stats()
	fmt.Fprintf(out, "Scheduler stopped after %d runs (%d failed, %d skipped)\n", st.Runs, st.Failed, st.Skipped)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
