package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Craig-0219/potato-autoA/internal/engine"
	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/preflight"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/state"
	"github.com/Craig-0219/potato-autoA/internal/telemetry"
)

// runOptions are the flags shared by run, dryrun and schedule.
type runOptions struct {
	From          string
	Recipient     int // 1-based; 0 means the first
	Force         bool
	Vars          []string
	DryRun        bool
	SkipPreflight bool
	ExportYAML    bool
	ShowSteps     bool
}

var (
	runOpts runOptions
	dryOpts runOptions
)

var runCmd = &cobra.Command{
	Use:   "run <task.yaml>",
	Short: "Run a task against the target application",
	Long: `Runs a task: the prologue once, the per-recipient steps for every eligible
recipient, then the epilogue.

A run resumes from the task's checkpoint unless --force is given. Caps,
pacing and the duration budget come from the configuration file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd.Context(), cmd.OutOrStdout(), args[0], runOpts)
	},
}

var dryrunCmd = &cobra.Command{
	Use:   "dryrun <task.yaml>",
	Short: "Run a task without sending any input",
	Long: `Runs a task with every click, keystroke and file dialog suppressed.
Templates are still located and click targets are highlighted on screen.
A dry run never moves the checkpoint or consumes the daily cap.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := dryOpts
		opts.DryRun = true
		return runTask(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
	},
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.From, "from", "", "start at this step label or index (first recipient only)")
	cmd.Flags().IntVar(&opts.Recipient, "recipient", 0, "start at this recipient position (1-based)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore and replace the checkpoint")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "override a task variable (key=value, repeatable)")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "skip template, recipient and window checks")
	cmd.Flags().BoolVar(&opts.ExportYAML, "yaml", false, "also export the report as YAML")
	cmd.Flags().BoolVar(&opts.ShowSteps, "steps", false, "print every step outcome")
}

func init() {
	addRunFlags(runCmd, &runOpts)
	addRunFlags(dryrunCmd, &dryOpts)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dryrunCmd)
}

// runTask wires the engine to the on-disk store, the sqlite counters,
// the run lock, the events file and the configured driver, runs the
// task and saves its report.
func runTask(ctx context.Context, out io.Writer, taskPath string, opts runOptions) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	def, err := loadTask(taskPath)
	if err != nil {
		return err
	}
	vars, err := env.taskVars(opts.Vars)
	if err != nil {
		return err
	}
	if opts.Recipient < 0 {
		return exitError(ExitDefinition, fmt.Errorf("--recipient must be positive"))
	}

	drv, err := newDriver(env.cfg.Driver)
	if err != nil {
		return exitError(ExitDefinition, err)
	}

	if !opts.SkipPreflight {
		res, err := preflight.Run(ctx, def, preflight.Options{Window: drv, AppName: env.cfg.Run.AppWindow})
		if err != nil {
			return exitError(ExitCancelled, err)
		}
		if !res.OK() {
			return exitError(ExitDefinition, fmt.Errorf("preflight failed:\n%w", res.Err()))
		}
	}

	counters, err := state.OpenCounterStore(env.store.CountersPath())
	if err != nil {
		return err
	}
	defer counters.Close()

	runID := report.NewRunID()
	sink, err := report.NewFileSink(env.store.EventsPath(def.Name, runID))
	if err != nil {
		return err
	}
	defer sink.Close()

	metrics := telemetry.Noop()
	if env.cfg.Telemetry.Enabled {
		mp, shutdown, err := telemetry.Setup(ctx, os.Stderr, time.Minute)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logging.Warn("failed to flush metrics", "error", err)
			}
		}()
		if metrics, err = telemetry.NewRecorder(mp); err != nil {
			return err
		}
	}

	eng := engine.New(engine.Options{
		Config:         env.cfg,
		Ports:          ports.FromDriver(drv),
		Counters:       counters,
		Checkpoints:    env.store,
		Lock:           state.NewRunLock(env.store.LockPath()),
		Sinks:          []report.Sink{sink},
		Metrics:        metrics,
		RunID:          runID,
		EvidenceDir:    env.store.EvidenceDir(),
		Vars:           vars,
		StartStep:      opts.From,
		StartRecipient: max(opts.Recipient-1, 0),
		Force:          opts.Force,
		DryRun:         opts.DryRun,
	})
	res := eng.Run(ctx, def)

	if err := env.store.SaveReport(res.Report); err != nil {
		logging.Error("failed to save report", "error", err)
	}
	if opts.ExportYAML {
		if path, err := env.store.ExportReportYAML(res.Report); err != nil {
			logging.Error("failed to export report", "error", err)
		} else {
			fmt.Fprintf(out, "Report exported to %s\n", path)
		}
	}

	renderReport(out, res.Report, opts.ShowSteps)
	return resultError(res)
}

// resultError converts an engine result into the command's error.
func resultError(res engine.Result) error {
	if res.OK() {
		return nil
	}
	err := res.Err
	if err == nil {
		err = errors.New(res.Reason.String())
	}
	switch res.Reason {
	case engine.ExitReasonDefinitionError:
		return exitError(ExitDefinition, err)
	case engine.ExitReasonLocked:
		return exitError(ExitLocked, err)
	case engine.ExitReasonCancelled:
		return exitError(ExitCancelled, err)
	default:
		return exitError(ExitFailed, err)
	}
}
