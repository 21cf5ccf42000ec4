package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/Craig-0219/potato-autoA/internal/clock"
	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/interpreter"
	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/recipients"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/state"
	"github.com/Craig-0219/potato-autoA/internal/task"
	"github.com/Craig-0219/potato-autoA/internal/telemetry"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// ExitReason indicates why a run stopped.
type ExitReason int

const (
	ExitReasonUnknown         ExitReason = iota
	ExitReasonCompleted                  // Every recipient handled
	ExitReasonGlobalStop                 // A cap or the duration budget was reached
	ExitReasonFatal                      // Run-level fatal condition
	ExitReasonFailed                     // A prologue, epilogue or flat-task step failed
	ExitReasonCancelled                  // Context cancelled
	ExitReasonDefinitionError            // Malformed task or recipient data
	ExitReasonLocked                     // Another run is active
)

// String returns the exit reason as recorded in reports.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonCompleted:
		return "completed"
	case ExitReasonGlobalStop:
		return "global_stop"
	case ExitReasonFatal:
		return "fatal"
	case ExitReasonFailed:
		return "failed"
	case ExitReasonCancelled:
		return "cancelled"
	case ExitReasonDefinitionError:
		return "definition_error"
	case ExitReasonLocked:
		return "locked"
	default:
		return "unknown"
	}
}

var (
	// ErrAnotherRunActive is returned when the run lock is held elsewhere.
	ErrAnotherRunActive = errors.New("another run is active")
	// ErrFatal marks a run-level fatal condition.
	ErrFatal = errors.New("fatal")
	// ErrStepFailed marks a required step failing outside the recipient loop.
	ErrStepFailed = errors.New("step failed")
)

// Recipient reasons recorded by the engine. Filter reasons come from the
// recipients package and cap reasons from the throttle package.
const (
	ReasonAlreadyCompleted = "already completed"
	ReasonBeforeStart      = "before start recipient"
	ReasonCancelled        = "cancelled"
	ReasonRunAborted       = "run aborted"
	ReasonFocusLost        = "window focus lost"
	StopMaxDuration        = "max_duration reached"
)

// Result contains the outcome of a run.
type Result struct {
	Reason     ExitReason
	StopReason string // set for ExitReasonGlobalStop
	Report     *report.Report
	Err        error
}

// OK reports whether the run ended without error. A global stop is a
// controlled halt and counts as OK.
func (r Result) OK() bool {
	return r.Err == nil && (r.Reason == ExitReasonCompleted || r.Reason == ExitReasonGlobalStop)
}

// Locker guards the target application against concurrent runs.
type Locker interface {
	IsActive() (bool, error)
	Acquire(task, runID string) error
	Release() error
}

// Options holds dependencies and per-run settings for an Engine.
type Options struct {
	Config      *config.Config
	Ports       ports.Ports
	Counters    throttle.CounterStore // nil uses an in-memory store
	Checkpoints state.CheckpointStore // nil uses an in-memory store
	Lock        Locker                // optional
	Sinks       []report.Sink
	Metrics     *telemetry.Recorder // optional
	Clock       clock.Clock         // optional: for deterministic tests

	RunID          string            // generated when empty
	EvidenceDir    string            // defaults to logs.dir
	Vars           map[string]string // override task variables
	StartStep      string            // label or index to begin at (--from)
	StartRecipient int               // recipients before this index are not run
	Force          bool              // ignore and replace any checkpoint
	DryRun         bool
}

// Engine is the flow controller.
type Engine struct {
	opts  Options
	cfg   *config.Config
	clock clock.Clock
	log   *logging.Logger
}

// New creates an Engine, filling unset dependencies with in-memory
// defaults.
func New(opts Options) *Engine {
	if opts.Config == nil {
		cfg := config.DefaultConfig()
		opts.Config = &cfg
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Counters == nil {
		opts.Counters = throttle.NewMemoryCounterStore()
	}
	if opts.Checkpoints == nil || opts.DryRun {
		// Dry runs never move the real checkpoint.
		opts.Checkpoints = state.NewMemoryCheckpointStore()
	}
	if opts.DryRun {
		// Nor do they consume the real daily cap.
		opts.Counters = throttle.NewMemoryCounterStore()
	}
	if opts.EvidenceDir == "" {
		opts.EvidenceDir = opts.Config.Logs.Dir
	}
	return &Engine{
		opts:  opts,
		cfg:   opts.Config,
		clock: opts.Clock,
		log:   logging.With("component", "engine"),
	}
}

// Run executes def and returns its result. The report is always set.
func (e *Engine) Run(ctx context.Context, def *task.Definition) Result {
	runID := e.opts.RunID
	if runID == "" {
		runID = report.NewRunID()
	}
	rep := report.New(runID, def.Name, e.clock.Now(), e.opts.Sinks...)
	rep.DryRun = e.opts.DryRun
	log := e.log.WithFields(map[string]interface{}{"run_id": runID, "task": def.Name})
	if err := rep.Start(); err != nil {
		log.Warn("failed to emit event", "error", err)
	}

	res := e.run(ctx, def, rep, log)
	res.Report = rep
	if err := rep.Finish(e.clock.Now(), res.Reason.String(), res.StopReason, res.Err); err != nil {
		log.Warn("failed to emit event", "error", err)
	}

	if res.Err != nil {
		log.Error("run ended", "reason", res.Reason, "error", res.Err)
	} else {
		log.Info("run ended", "reason", res.Reason, "stop", res.StopReason, "counts", rep.Counts())
	}
	return res
}

// Summary describes what a run of a task would do.
type Summary struct {
	Recipients int
	Eligible   int
	Skipped    map[string]int // by filter reason
	Resume     *state.Checkpoint
}

// Validate performs every check Run does before the first UI action:
// recipient loading, placeholder resolution for each eligible recipient,
// --from resolution and checkpoint consistency. It never touches the UI,
// the run lock or the checkpoint.
func (e *Engine) Validate(ctx context.Context, def *task.Definition) (Summary, error) {
	v := *e
	v.opts.Force = false
	rep := report.New("validate", def.Name, e.clock.Now())
	r, err := v.prepare(ctx, def, rep, e.log)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Recipients: len(r.recips), Skipped: map[string]int{}, Resume: r.resume}
	for _, rc := range r.recips {
		if reason := r.filterReason(rc); reason != "" {
			sum.Skipped[reason]++
			continue
		}
		sum.Eligible++
	}
	return sum, nil
}

func (e *Engine) run(ctx context.Context, def *task.Definition, rep *report.Report, log *logging.Logger) Result {
	if lock := e.opts.Lock; lock != nil {
		active, err := lock.IsActive()
		if err != nil {
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: run lock: %v", ErrFatal, err)}
		}
		if active {
			return Result{Reason: ExitReasonLocked, Err: ErrAnotherRunActive}
		}
		if err := lock.Acquire(def.Name, rep.RunID); err != nil {
			if errors.Is(err, state.ErrLocked) {
				return Result{Reason: ExitReasonLocked, Err: fmt.Errorf("%w: %v", ErrAnotherRunActive, err)}
			}
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: run lock: %v", ErrFatal, err)}
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	r, err := e.prepare(ctx, def, rep, log)
	if err != nil {
		var de *task.DefinitionError
		switch {
		case errors.As(err, &de):
			return Result{Reason: ExitReasonDefinitionError, Err: err}
		case ctx.Err() != nil:
			return Result{Reason: ExitReasonCancelled, Err: ctx.Err()}
		default:
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, err)}
		}
	}
	return r.execute(ctx)
}

// run is the mutable state of one execution.
type run struct {
	e       *Engine
	def     *task.Definition
	plan    task.Plan
	rep     *report.Report
	log     *logging.Logger
	interp  *interpreter.Interpreter
	human   *throttle.Humanizer
	limiter *throttle.Throttle
	filter  *recipients.Filter
	recips  []recipients.Recipient
	base    task.Scope

	cp        *state.Checkpoint
	resume    *state.Checkpoint // checkpoint loaded at start, nil for a fresh run
	startStep int               // -1 when no --from
	history   []report.RecipientOutcome
}

// prepare loads everything the run needs and checks it before any UI
// interaction happens.
func (e *Engine) prepare(ctx context.Context, def *task.Definition, rep *report.Report, log *logging.Logger) (*run, error) {
	r := &run{e: e, def: def, plan: def.Plan(), rep: rep, log: log, startStep: -1}

	if r.plan.Iterating() {
		if err := r.loadRecipients(); err != nil {
			return nil, err
		}
	}

	vars := maps.Clone(def.Variables)
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, e.opts.Vars)
	r.base = task.NewScope(vars, map[string]string{
		"run_id": rep.RunID,
		"total":  strconv.Itoa(len(r.recips)),
	})

	outer := make([]task.Step, 0, len(r.plan.Prologue)+len(r.plan.Epilogue))
	outer = append(outer, r.plan.Prologue...)
	outer = append(outer, r.plan.Epilogue...)
	if err := task.CheckResolvable(outer, r.base); err != nil {
		return nil, err
	}
	for i, rc := range r.recips {
		if r.filterReason(rc) != "" {
			continue
		}
		if err := task.CheckResolvable(r.plan.Repeated, r.scopeFor(i, rc)); err != nil {
			var de *task.DefinitionError
			if errors.As(err, &de) {
				de.Path = fmt.Sprintf("recipient %s (line %d), %s", rc.Label(), rc.Line, de.Path)
			}
			return nil, err
		}
	}

	if e.opts.StartStep != "" {
		list := r.plan.Prologue
		if r.plan.Iterating() {
			list = r.plan.Repeated
		}
		idx, err := task.ResolveTarget(list, e.opts.StartStep)
		if err != nil {
			return nil, &task.DefinitionError{Path: "--from", Message: err.Error()}
		}
		r.startStep = idx
	}

	r.human = throttle.HumanizerFromConfig(e.cfg, def.Limits.IntervalSec)
	tcfg := throttle.Config{
		MaxPerRun:  e.cfg.Throttle.MaxRecipientsPerRun,
		DailyCap:   e.cfg.Throttle.DailyCap,
		CounterKey: e.cfg.Throttle.CounterKey,
	}
	if def.Limits.MaxRecipients > 0 {
		tcfg.MaxPerRun = def.Limits.MaxRecipients
	}
	r.limiter = throttle.New(tcfg, e.opts.Counters, e.clock)

	p := e.opts.Ports
	if e.opts.DryRun {
		p, _ = p.DryRun()
	}
	iopts := interpreter.OptionsFromConfig(e.cfg)
	iopts.BaseDir = def.BaseDir
	iopts.RunID = rep.RunID
	iopts.EvidenceDir = e.opts.EvidenceDir
	iopts.DryRun = e.opts.DryRun
	r.interp = interpreter.New(p, r.human, e.clock, iopts)

	r.cp = state.NewCheckpoint(def.Name, rep.RunID)
	if r.plan.Iterating() {
		if err := r.loadCheckpoint(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *run) loadRecipients() error {
	fe := r.def.ForEach
	recips, err := recipients.Load(r.def.Path(fe.Source))
	if err != nil {
		var le *recipients.LoadError
		if errors.As(err, &le) {
			return &task.DefinitionError{Path: "for_each_recipient.source", Message: le.Error()}
		}
		return &task.DefinitionError{Path: "for_each_recipient.source", Message: err.Error()}
	}
	blacklist, err := recipients.LoadSet(r.def.Path(fe.Blacklist))
	if err != nil {
		return &task.DefinitionError{Path: "for_each_recipient.blacklist", Message: err.Error()}
	}
	unsubscribe, err := recipients.LoadSet(r.def.Path(fe.Unsubscribe))
	if err != nil {
		return &task.DefinitionError{Path: "for_each_recipient.unsubscribe", Message: err.Error()}
	}

	policy := fe.MatchPolicy
	if policy == "" {
		policy = r.e.cfg.Throttle.MatchPolicy
	}
	r.recips = recips
	r.filter = recipients.NewFilter(policy, blacklist, unsubscribe)
	r.log.Info("recipients loaded", "count", len(recips), "blacklisted", len(blacklist), "unsubscribed", len(unsubscribe), "match_policy", r.filter.Policy())
	return nil
}

func (r *run) loadCheckpoint(ctx context.Context) error {
	store := r.e.opts.Checkpoints
	if r.e.opts.Force {
		return store.ClearCheckpoint(ctx, r.def.Name)
	}
	cp, err := store.LoadCheckpoint(ctx, r.def.Name)
	if err != nil || cp == nil {
		return err
	}
	if i := cp.RecipientIndex; i >= 0 && !cp.LoopDone {
		if i >= len(r.recips) || r.recips[i].Key() != cp.RecipientKey {
			return &task.DefinitionError{
				Path:    "checkpoint",
				Message: fmt.Sprintf("recipient %d (%s) no longer matches the source; rerun with --force", i, cp.RecipientKey),
			}
		}
	}
	r.log.Info("resuming from checkpoint", "recipient", cp.RecipientIndex, "step", cp.StepIndex, "previous_run", cp.RunID)
	resume := *cp
	r.resume = &resume
	r.cp = cp
	return nil
}

// scopeFor layers loop variables and recipient fields over the base scope.
func (r *run) scopeFor(i int, rc recipients.Recipient) task.Scope {
	return r.base.With(map[string]string{
		"index":    strconv.Itoa(i),
		"position": strconv.Itoa(i + 1),
	}).With(rc.Vars())
}

// filterReason applies the blacklist and unsubscribe lists. Unsubscribed
// recipients are skipped even when skip_if_blacklisted is off.
func (r *run) filterReason(rc recipients.Recipient) string {
	if r.def.ForEach.SkipBlacklisted() {
		return r.filter.SkipReason(rc)
	}
	if r.filter.IsUnsubscribed(rc) {
		return recipients.SkipUnsubscribed
	}
	return ""
}

// passReason returns why recipient i is not run at all in this run.
func (r *run) passReason(i int, rc recipients.Recipient) string {
	switch {
	case r.resume != nil && r.resume.Covers(i):
		return ReasonAlreadyCompleted
	case i < r.e.opts.StartRecipient:
		return ReasonBeforeStart
	default:
		return r.filterReason(rc)
	}
}

func (r *run) execute(ctx context.Context) Result {
	if len(r.plan.Prologue) > 0 {
		start := 0
		if !r.plan.Iterating() && r.startStep >= 0 {
			start = r.startStep
		}
		res := r.interp.Run(ctx, interpreter.Program{
			Steps:          r.plan.Prologue,
			Phase:          report.PhasePrologue,
			RecipientIndex: -1,
			Start:          start,
		}, r.base, r.observer(ctx))
		if out := r.phaseResult(ctx, res, report.PhasePrologue); out != nil {
			r.markFrom(ctx, 0, report.StatusNotAttempted, ReasonRunAborted)
			return *out
		}
	}

	final := Result{Reason: ExitReasonCompleted}
	if r.plan.Iterating() {
		out, proceed := r.loop(ctx)
		r.log.Info("recipient loop finished", "started", r.limiter.RunCount(), "reason", out.Reason.String())
		if !proceed {
			return out
		}
		final = out
	}

	if len(r.plan.Epilogue) > 0 {
		res := r.interp.Run(ctx, interpreter.Program{
			Steps:          r.plan.Epilogue,
			Phase:          report.PhaseEpilogue,
			RecipientIndex: -1,
		}, r.base, r.observer(ctx))
		if out := r.phaseResult(ctx, res, report.PhaseEpilogue); out != nil {
			return *out
		}
	}

	if final.Reason == ExitReasonCompleted && r.plan.Iterating() {
		if err := r.e.opts.Checkpoints.ClearCheckpoint(ctx, r.def.Name); err != nil {
			r.log.Warn("failed to clear checkpoint", "error", err)
		}
	}
	return final
}

// phaseResult converts a prologue or epilogue program result into a run
// result, or nil when the phase completed.
func (r *run) phaseResult(ctx context.Context, res interpreter.ProgramResult, phase report.Phase) *Result {
	switch {
	case res.Err != nil:
		return &Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %s: %v", ErrFatal, phase, res.Err)}
	case res.Cancelled:
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		return &Result{Reason: ExitReasonCancelled, Err: err}
	case res.Failed != nil:
		f := res.Failed
		return &Result{
			Reason: ExitReasonFailed,
			Err:    fmt.Errorf("%w: %s step %s: %s: %s", ErrStepFailed, phase, f.StepName, f.Kind, f.Message),
		}
	}
	return nil
}

// observer records outer-phase step outcomes.
func (r *run) observer(ctx context.Context) interpreter.StepFunc {
	return func(o report.StepOutcome) error {
		r.recordStep(ctx, o)
		return nil
	}
}

func (r *run) recordStep(ctx context.Context, o report.StepOutcome) {
	if err := r.rep.AddStep(o); err != nil {
		r.log.Warn("failed to emit event", "error", err)
	}
	r.e.opts.Metrics.Step(ctx, o)
}

// settle records a recipient's final outcome.
func (r *run) settle(ctx context.Context, o report.RecipientOutcome) {
	if o.FinishedAt.IsZero() {
		o.FinishedAt = r.e.clock.Now()
	}
	r.history = append(r.history, o)
	if err := r.rep.AddRecipient(o); err != nil {
		r.log.Warn("failed to emit event", "error", err)
	}
	r.e.opts.Metrics.Recipient(ctx, o)
	r.log.Debug("recipient settled", "recipient", o.Label, "status", o.Status, "reason", o.Reason)
}

// markFrom settles every recipient from index on. Recipients that would
// be passed over anyway keep their pass reason.
func (r *run) markFrom(ctx context.Context, from int, status report.RecipientStatus, reason string) {
	for i := from; i < len(r.recips); i++ {
		rc := r.recips[i]
		o := outcomeFor(i, rc)
		if pass := r.passReason(i, rc); pass != "" {
			o.Status, o.Reason = report.StatusSkipped, pass
		} else {
			o.Status, o.Reason = status, reason
		}
		r.settle(ctx, o)
	}
}

func outcomeFor(i int, rc recipients.Recipient) report.RecipientOutcome {
	return report.RecipientOutcome{Index: i, Key: rc.Key(), Label: rc.Label()}
}

func (r *run) saveCheckpoint(ctx context.Context) error {
	r.cp.RunID = r.rep.RunID
	r.cp.UpdatedAt = r.e.clock.Now()
	if err := r.e.opts.Checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), r.cp); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
