package engine

import (
	"context"
	"fmt"

	"github.com/Craig-0219/potato-autoA/internal/interpreter"
	"github.com/Craig-0219/potato-autoA/internal/recipients"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/task"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// loop runs the repeated list once per recipient in source order. It
// returns proceed=false when the run must end without the epilogue.
func (r *run) loop(ctx context.Context) (Result, bool) {
	var (
		stop    string
		started int
	)

	for i, rc := range r.recips {
		if err := ctx.Err(); err != nil {
			r.markFrom(ctx, i, report.StatusNotAttempted, ReasonCancelled)
			return Result{Reason: ExitReasonCancelled, Err: err}, false
		}

		if reason := r.passReason(i, rc); reason != "" {
			o := outcomeFor(i, rc)
			o.Status, o.Reason = report.StatusSkipped, reason
			r.settle(ctx, o)
			continue
		}

		if stop == "" {
			reason, err := r.globalStop(ctx)
			if err != nil {
				r.markFrom(ctx, i, report.StatusNotAttempted, ReasonRunAborted)
				return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, err)}, false
			}
			if reason != "" {
				stop = reason
				r.log.Info("global stop", "reason", stop, "recipient", rc.Label())
			}
		}
		if stop != "" {
			o := outcomeFor(i, rc)
			o.Status, o.Reason = report.StatusDeferred, stop
			r.settle(ctx, o)
			continue
		}

		if started > 0 {
			if err := r.e.clock.Sleep(ctx, r.human.NextDelay(throttle.DelayInterRecipient)); err != nil {
				r.markFrom(ctx, i, report.StatusNotAttempted, ReasonCancelled)
				return Result{Reason: ExitReasonCancelled, Err: err}, false
			}
		}

		if ok, err := r.refocus(ctx); !ok {
			if ctx.Err() != nil {
				r.markFrom(ctx, i, report.StatusNotAttempted, ReasonCancelled)
				return Result{Reason: ExitReasonCancelled, Err: ctx.Err()}, false
			}
			o := outcomeFor(i, rc)
			o.Status, o.Reason = report.StatusFailed, ReasonFocusLost
			if err != nil {
				r.log.Warn("focus failed", "window", r.e.cfg.Run.AppWindow, "error", err)
			}
			r.settle(ctx, o)
			r.markFrom(ctx, i+1, report.StatusNotAttempted, ReasonRunAborted)
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %s %q", ErrFatal, ReasonFocusLost, r.e.cfg.Run.AppWindow)}, false
		}

		if err := r.limiter.RecordStart(ctx); err != nil {
			r.markFrom(ctx, i, report.StatusNotAttempted, ReasonRunAborted)
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, err)}, false
		}

		start := r.resumeStep(i)
		if started == 0 && r.startStep >= 0 {
			start = r.startStep
		}
		started++

		out, res := r.runRecipient(ctx, i, rc, start)
		r.settle(ctx, out)

		switch {
		case res.Err != nil:
			r.markFrom(ctx, i+1, report.StatusNotAttempted, ReasonRunAborted)
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, res.Err)}, false
		case res.Cancelled:
			r.markFrom(ctx, i+1, report.StatusNotAttempted, ReasonCancelled)
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			return Result{Reason: ExitReasonCancelled, Err: err}, false
		}

		if err := r.finishRecipient(ctx, i, rc); err != nil {
			r.markFrom(ctx, i+1, report.StatusNotAttempted, ReasonRunAborted)
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, err)}, false
		}

		if limit := r.e.cfg.Run.MaxConsecutiveFailures; FailureStreak(r.history, limit) {
			r.markFrom(ctx, i+1, report.StatusNotAttempted, ReasonRunAborted)
			return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %d consecutive recipients failed", ErrFatal, limit)}, false
		}
	}

	if stop != "" {
		return Result{Reason: ExitReasonGlobalStop, StopReason: stop}, true
	}

	r.cp.LoopDone = true
	if err := r.saveCheckpoint(ctx); err != nil {
		return Result{Reason: ExitReasonFatal, Err: fmt.Errorf("%w: %v", ErrFatal, err)}, false
	}
	return Result{Reason: ExitReasonCompleted}, true
}

// globalStop checks the run duration budget and the recipient caps. It
// returns the stop reason, or "" when another recipient may start.
func (r *run) globalStop(ctx context.Context) (string, error) {
	if budget := r.e.cfg.MaxDuration(); budget > 0 && r.e.clock.Now().Sub(r.rep.StartedAt) >= budget {
		return StopMaxDuration, nil
	}
	d, err := r.limiter.AllowNextRecipient(ctx)
	if err != nil {
		return "", err
	}
	if !d.Allowed {
		return d.Reason, nil
	}
	return "", nil
}

// refocus brings the application window forward before a recipient.
func (r *run) refocus(ctx context.Context) (bool, error) {
	window := r.e.cfg.Run.AppWindow
	if window == "" {
		return true, nil
	}
	return r.interp.Focus(ctx, window)
}

// resumeStep returns where recipient i starts: after the checkpointed step
// when i was interrupted mid-sequence, otherwise at the top. A checkpointed
// goto is re-evaluated rather than skipped.
func (r *run) resumeStep(i int) int {
	cp := r.resume
	if cp == nil || cp.RecipientIndex != i || cp.RecipientDone || cp.StepIndex < 0 {
		return 0
	}
	if s := cp.StepIndex; s < len(r.plan.Repeated) && r.plan.Repeated[s].Kind() == task.KindGotoStep {
		return s
	}
	return cp.StepIndex + 1
}

// runRecipient runs the repeated list for one recipient, checkpointing
// after every completed step.
func (r *run) runRecipient(ctx context.Context, i int, rc recipients.Recipient, start int) (report.RecipientOutcome, interpreter.ProgramResult) {
	out := outcomeFor(i, rc)
	out.StartedAt = r.e.clock.Now()
	log := r.log.WithFields(map[string]interface{}{"recipient": rc.Label(), "index": i})
	log.Info("recipient started", "start_step", start)

	key := rc.Key()
	observe := func(o report.StepOutcome) error {
		r.recordStep(ctx, o)
		if !o.Succeeded() {
			return nil
		}
		next := *r.cp
		next.RecipientIndex, next.RecipientKey = i, key
		next.StepIndex, next.RecipientDone = o.StepIndex, false
		if r.cp.Advance(next) {
			return r.saveCheckpoint(ctx)
		}
		return nil
	}

	res := r.interp.Run(ctx, interpreter.Program{
		Steps:          r.plan.Repeated,
		Phase:          report.PhaseRecipient,
		RecipientIndex: i,
		RecipientKey:   key,
		Start:          start,
	}, r.scopeFor(i, rc), observe)

	out.StepsRun = len(res.Outcomes)
	out.FinishedAt = r.e.clock.Now()
	switch {
	case res.Err != nil:
		out.Status, out.Reason, out.Failure = report.StatusFailed, ReasonRunAborted, report.OutcomeFatal
	case res.Cancelled:
		// Interrupted mid-sequence; the checkpoint lets a later run finish it.
		out.Status, out.Reason = report.StatusDeferred, ReasonCancelled
	case res.Failed != nil:
		out.Status = report.StatusFailed
		out.Reason = string(res.Failed.Kind)
		out.FailedStep = res.Failed.StepName
		out.Failure = res.Failed.Kind
		log.Warn("recipient step failed", "step", res.Failed.StepName, "kind", res.Failed.Kind, "message", res.Failed.Message)
	default:
		out.Status = report.StatusSuccess
	}
	log.Info("recipient finished", "status", out.Status, "reason", out.Reason, "steps", out.StepsRun)
	return out, res
}

// finishRecipient marks recipient i complete in the checkpoint.
func (r *run) finishRecipient(ctx context.Context, i int, rc recipients.Recipient) error {
	next := *r.cp
	if next.RecipientIndex != i {
		next.StepIndex = -1
	}
	next.RecipientIndex, next.RecipientKey, next.RecipientDone = i, rc.Key(), true
	if r.cp.Advance(next) {
		return r.saveCheckpoint(ctx)
	}
	return nil
}
