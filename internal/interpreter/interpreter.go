// Package interpreter executes task steps against the capability ports.
//
// Execute runs a single step and always returns an outcome; blocking is
// bounded by the step's own locate windows and waits. Run drives a whole
// step list with an instruction pointer, honouring goto/label jumps up to
// a per-list jump cap.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Craig-0219/potato-autoA/internal/clock"
	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/task"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// Options tunes locate polling and evidence capture.
type Options struct {
	Threshold     float64
	Timeout       time.Duration // per locate attempt
	Retries       int
	PollInterval  time.Duration
	SearchRegion  []int
	AssertTimeout time.Duration // window for assertions without timeout_sec; 0 is a single scan
	JumpCap       int

	BaseDir          string // relative template and upload paths resolve here
	AppWindow        string
	EvidenceDir      string
	RunID            string
	ScreenshotOnFail bool
	DryRun           bool
}

// OptionsFromConfig derives interpreter options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:        cfg.Vision.DefaultThreshold,
		Timeout:          cfg.VisionTimeout(),
		Retries:          cfg.Vision.Retries,
		PollInterval:     cfg.PollInterval(),
		SearchRegion:     cfg.Vision.SearchRegion,
		JumpCap:          cfg.Run.JumpCap,
		AppWindow:        cfg.Run.AppWindow,
		EvidenceDir:      cfg.Logs.Dir,
		ScreenshotOnFail: cfg.Logs.ScreenshotOnFail,
	}
}

// Outcome is a step outcome plus the jump a goto step requested.
type Outcome struct {
	report.StepOutcome
	Jump string // goto target when the jump fires
}

// Interpreter executes steps. It holds no per-run mutable state besides
// the shared humanizer.
type Interpreter struct {
	ports     ports.Ports
	humanizer *throttle.Humanizer
	clock     clock.Clock
	opts      Options
	log       *logging.Logger
}

// New creates an Interpreter.
func New(p ports.Ports, h *throttle.Humanizer, clk clock.Clock, opts Options) *Interpreter {
	if clk == nil {
		clk = clock.Real{}
	}
	if h == nil {
		h = throttle.NewHumanizer(nil, 0)
	}
	if opts.Threshold == 0 {
		opts.Threshold = config.DefaultThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollMS * time.Millisecond
	}
	if opts.JumpCap <= 0 {
		opts.JumpCap = config.DefaultJumpCap
	}
	return &Interpreter{
		ports:     p,
		humanizer: h,
		clock:     clk,
		opts:      opts,
		log:       logging.With("component", "interpreter"),
	}
}

// Execute runs one step with placeholders resolved against scope.
func (in *Interpreter) Execute(ctx context.Context, step task.Step, scope task.Scope) Outcome {
	out := Outcome{StepOutcome: report.StepOutcome{
		RecipientIndex: -1,
		StepIndex:      step.Index,
		StepName:       step.Name(),
		Action:         string(step.Kind()),
		Optional:       step.Optional,
		StartedAt:      in.clock.Now(),
	}}

	if err := ctx.Err(); err != nil {
		return in.finish(out, report.OutcomeCancelled, err.Error())
	}

	kind, msg := in.dispatch(ctx, step, scope, &out)
	if ctx.Err() != nil && kind != report.OutcomeSuccess {
		kind, msg = report.OutcomeCancelled, ctx.Err().Error()
	}
	out = in.finish(out, kind, msg)

	in.log.Debug("step finished",
		"step", out.StepName, "action", out.Action, "kind", out.Kind, "attempts", out.Attempts)
	return out
}

func (in *Interpreter) finish(out Outcome, kind report.OutcomeKind, msg string) Outcome {
	out.Kind = kind
	out.Message = msg
	out.FinishedAt = in.clock.Now()
	if out.Attempts > 0 {
		out.RetriesUsed = out.Attempts - 1
	}
	out.Tolerated = out.Optional && kind.Tolerable()
	return out
}

// dispatch switches exhaustively over the closed set of actions.
func (in *Interpreter) dispatch(ctx context.Context, step task.Step, scope task.Scope, out *Outcome) (report.OutcomeKind, string) {
	switch a := step.Action.(type) {
	case task.LocateClick:
		return in.locateClick(ctx, a, in.retries(step), out)
	case task.Click:
		return in.input(ctx, out, throttle.DelayClick, func() error {
			return in.ports.Input.Click(ctx, ports.Point{X: a.X, Y: a.Y}, a.Button, false)
		})
	case task.Move:
		return in.input(ctx, out, throttle.DelayClick, func() error {
			return in.ports.Input.Move(ctx, ports.Point{X: a.X, Y: a.Y}, millis(a.DurationMS))
		})
	case task.DragDrop:
		from := ports.Point{X: a.From[0], Y: a.From[1]}
		to := ports.Point{X: a.To[0], Y: a.To[1]}
		return in.input(ctx, out, throttle.DelayClick, func() error {
			return in.ports.Input.Drag(ctx, from, to, millis(a.DurationMS))
		})
	case task.TypeText:
		text, err := scope.Resolve(a.Text)
		if err != nil {
			return report.OutcomeFatal, err.Error()
		}
		return in.input(ctx, out, throttle.DelayType, func() error {
			return in.ports.Input.Type(ctx, text)
		})
	case task.Press:
		keys := make([]string, len(a.Keys))
		for i, k := range a.Keys {
			v, err := scope.Resolve(k)
			if err != nil {
				return report.OutcomeFatal, err.Error()
			}
			keys[i] = v
		}
		return in.input(ctx, out, throttle.DelayType, func() error {
			return in.ports.Input.Press(ctx, keys)
		})
	case task.Wait:
		return in.wait(ctx, a)
	case task.Upload:
		return in.upload(ctx, a, scope, in.retries(step), out)
	case task.Assert:
		return in.assert(ctx, a, out)
	case task.Screenshot:
		return in.screenshot(ctx, a, scope, out)
	case task.FocusApp:
		return in.focus(ctx, a, scope)
	case task.EnsureLoggedIn:
		m, attempts, err := in.locateWithRetries(ctx, a.Anchor, in.retries(step))
		out.Attempts = attempts
		if err != nil {
			return classifyError(err)
		}
		if m == nil {
			return report.OutcomeTimeout, "logged-in anchor did not appear"
		}
		recordMatch(out, m)
		return report.OutcomeSuccess, ""
	case task.Goto:
		return in.gotoStep(ctx, a, out)
	case task.Label, task.ForEachRecipient:
		return report.OutcomeSuccess, ""
	}
	return report.OutcomeFatal, fmt.Sprintf("unsupported step action %T", step.Action)
}

func (in *Interpreter) retries(step task.Step) int {
	if step.Retries != nil {
		return *step.Retries
	}
	return in.opts.Retries
}

// input applies the humanized pre-action delay then performs one primitive.
// Input failures get no retry.
func (in *Interpreter) input(ctx context.Context, out *Outcome, delay throttle.DelayKind, act func() error) (report.OutcomeKind, string) {
	if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(delay)); err != nil {
		return report.OutcomeCancelled, err.Error()
	}
	out.Attempts = 1
	out.Suppressed = in.opts.DryRun
	if err := act(); err != nil {
		return classifyError(err)
	}
	return report.OutcomeSuccess, ""
}

func (in *Interpreter) locateClick(ctx context.Context, a task.LocateClick, retries int, out *Outcome) (report.OutcomeKind, string) {
	m, attempts, err := in.locateWithRetries(ctx, a.Anchor, retries)
	out.Attempts = attempts
	if err != nil {
		return classifyError(err)
	}
	if m == nil {
		return report.OutcomeNotFound, fmt.Sprintf("no match for %v after %d attempt(s)", a.Templates, attempts)
	}
	recordMatch(out, m)

	target := m.Point
	if len(a.Offset) == 2 {
		target = target.Offset(a.Offset[0], a.Offset[1])
	}
	if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(throttle.DelayClick)); err != nil {
		return report.OutcomeCancelled, err.Error()
	}
	out.Suppressed = in.opts.DryRun
	if err := in.ports.Input.Click(ctx, target, a.Button, a.Double); err != nil {
		return classifyError(err)
	}

	if a.VerifyAbsent && !in.opts.DryRun {
		if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(throttle.DelayClick)); err != nil {
			return report.OutcomeCancelled, err.Error()
		}
		gone, err := in.waitAbsent(ctx, in.request(a.Anchor), in.window(a.Anchor))
		if err != nil {
			return classifyError(err)
		}
		if !gone {
			return report.OutcomeAssertionFailed, "anchor still visible after click"
		}
	}
	return report.OutcomeSuccess, ""
}

func (in *Interpreter) wait(ctx context.Context, a task.Wait) (report.OutcomeKind, string) {
	d := seconds(a.Sec)
	if a.IsRange() {
		d = in.humanizer.Uniform(throttle.Range{Min: seconds(a.MinSec), Max: seconds(a.MaxSec)})
	}
	if err := in.clock.Sleep(ctx, d); err != nil {
		return report.OutcomeCancelled, err.Error()
	}
	return report.OutcomeSuccess, ""
}

func (in *Interpreter) upload(ctx context.Context, a task.Upload, scope task.Scope, retries int, out *Outcome) (report.OutcomeKind, string) {
	p, err := scope.Resolve(a.Path)
	if err != nil {
		return report.OutcomeFatal, err.Error()
	}
	p = task.ResolvePath(in.opts.BaseDir, p)

	kind, msg := in.input(ctx, out, throttle.DelayClick, func() error {
		return in.ports.Dialog.OpenFileDialog(ctx, a.Dir)
	})
	if kind != report.OutcomeSuccess {
		return kind, msg
	}
	if kind, msg = in.input(ctx, out, throttle.DelayType, func() error {
		return in.ports.Input.Type(ctx, p)
	}); kind != report.OutcomeSuccess {
		return kind, msg
	}
	if kind, msg = in.input(ctx, out, throttle.DelayType, func() error {
		return in.ports.Input.Press(ctx, []string{"enter"})
	}); kind != report.OutcomeSuccess {
		return kind, msg
	}

	if a.Confirm == nil {
		return report.OutcomeSuccess, ""
	}
	m, attempts, err := in.locateWithRetries(ctx, *a.Confirm, retries)
	out.Attempts = attempts
	if err != nil {
		return classifyError(err)
	}
	if m == nil {
		return report.OutcomeTimeout, "upload confirmation did not appear"
	}
	recordMatch(out, m)
	return report.OutcomeSuccess, ""
}

// assert uses one short window and never consumes the retry budget.
func (in *Interpreter) assert(ctx context.Context, a task.Assert, out *Outcome) (report.OutcomeKind, string) {
	window := in.opts.AssertTimeout
	if a.TimeoutSec > 0 {
		window = seconds(a.TimeoutSec)
	}
	req := in.request(a.Anchor)
	out.Attempts = 1

	if a.Absent {
		gone, err := in.waitAbsent(ctx, req, window)
		if err != nil {
			return classifyError(err)
		}
		if !gone {
			return report.OutcomeAssertionFailed, fmt.Sprintf("%v still visible", a.Templates)
		}
		return report.OutcomeSuccess, ""
	}

	m, err := in.pollLocate(ctx, req, window)
	if err != nil {
		return classifyError(err)
	}
	if m == nil {
		return report.OutcomeAssertionFailed, fmt.Sprintf("%v not visible", a.Templates)
	}
	recordMatch(out, m)
	return report.OutcomeSuccess, ""
}

func (in *Interpreter) screenshot(ctx context.Context, a task.Screenshot, scope task.Scope, out *Outcome) (report.OutcomeKind, string) {
	name, err := scope.Resolve(a.Name)
	if err != nil {
		return report.OutcomeFatal, err.Error()
	}
	if name == "" {
		name = fmt.Sprintf("step%d", out.StepIndex)
	}
	if in.ports.Screen == nil {
		return report.OutcomeSuccess, "no screenshot capability"
	}
	path := report.NamedEvidencePath(in.opts.EvidenceDir, in.opts.RunID, name)
	out.Attempts = 1
	if err := in.ports.Screen.Capture(ctx, path); err != nil {
		return classifyError(err)
	}
	out.Evidence = path
	return report.OutcomeSuccess, ""
}

// focus tries twice before declaring the window lost.
func (in *Interpreter) focus(ctx context.Context, a task.FocusApp, scope task.Scope) (report.OutcomeKind, string) {
	name, err := scope.Resolve(a.Window)
	if err != nil {
		return report.OutcomeFatal, err.Error()
	}
	if name == "" {
		name = in.opts.AppWindow
	}
	ok, err := in.Focus(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return report.OutcomeCancelled, err.Error()
		}
		return report.OutcomeFatal, err.Error()
	}
	if !ok {
		return report.OutcomeFatal, fmt.Sprintf("window %q could not be focused", name)
	}
	return report.OutcomeSuccess, ""
}

// Focus brings name to the foreground, retrying once after a short pause.
func (in *Interpreter) Focus(ctx context.Context, name string) (bool, error) {
	if in.ports.Window == nil {
		return true, nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(throttle.DelayClick)); err != nil {
				return false, err
			}
		}
		ok, err := in.ports.Window.FocusWindow(ctx, name)
		if err != nil {
			return false, fmt.Errorf("focus %q: %w", name, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (in *Interpreter) gotoStep(ctx context.Context, a task.Goto, out *Outcome) (report.OutcomeKind, string) {
	cond := a.IfPresent
	if cond == nil {
		cond = a.IfAbsent
	}
	if cond == nil {
		out.Jump = a.Target
		return report.OutcomeSuccess, ""
	}

	window := time.Duration(0)
	if cond.TimeoutSec > 0 {
		window = seconds(cond.TimeoutSec)
	}
	out.Attempts = 1
	m, err := in.pollLocate(ctx, in.request(*cond), window)
	if err != nil {
		return classifyError(err)
	}
	if (m != nil) == (a.IfPresent != nil) {
		out.Jump = a.Target
	}
	return report.OutcomeSuccess, ""
}

// CaptureEvidence saves a failure screenshot and returns its path, or ""
// when capture is disabled or fails.
func (in *Interpreter) CaptureEvidence(ctx context.Context, recipientIndex, stepIndex int) string {
	if !in.opts.ScreenshotOnFail || in.ports.Screen == nil {
		return ""
	}
	path := report.EvidencePath(in.opts.EvidenceDir, in.opts.RunID, recipientIndex, stepIndex)
	if err := in.ports.Screen.Capture(ctx, path); err != nil {
		in.log.Warn("failed to capture evidence", "path", path, "error", err)
		return ""
	}
	return path
}

// classifyError maps a port error to an outcome kind.
func classifyError(err error) (report.OutcomeKind, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return report.OutcomeCancelled, err.Error()
	default:
		return report.OutcomeInputFailure, err.Error()
	}
}

func recordMatch(out *Outcome, m *ports.Match) {
	x, y := m.X, m.Y
	out.MatchX, out.MatchY = &x, &y
	out.Template = m.Template
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
