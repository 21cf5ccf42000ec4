package interpreter

import (
	"context"
	"fmt"

	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/task"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// Program is one step list to execute, such as the prologue or one
// recipient's pass over the repeated list.
type Program struct {
	Steps          []task.Step
	Phase          report.Phase
	RecipientIndex int // -1 outside the recipient loop
	RecipientKey   string
	Start          int // instruction pointer to begin at
}

// StepFunc observes each outcome as it is produced. Returning an error
// stops the program.
type StepFunc func(o report.StepOutcome) error

// ProgramResult summarises a program run.
type ProgramResult struct {
	Outcomes  []report.StepOutcome
	Failed    *report.StepOutcome // the step that aborted the program, if any
	Jumps     int
	Cancelled bool
	Err       error // observer error
}

// OK reports whether every step completed or was tolerated.
func (r ProgramResult) OK() bool {
	return r.Failed == nil && !r.Cancelled && r.Err == nil
}

// Run executes the program's steps from Start. Steps run in order except
// where a goto fires; each list gets at most JumpCap jumps, after which
// the program fails with a fatal outcome.
func (in *Interpreter) Run(ctx context.Context, prog Program, scope task.Scope, observe StepFunc) ProgramResult {
	var res ProgramResult

	ip := prog.Start
	for ip >= 0 && ip < len(prog.Steps) {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res
		}

		step := prog.Steps[ip]
		out := in.Execute(ctx, step, scope)
		out.Phase = prog.Phase
		out.RecipientIndex = prog.RecipientIndex
		out.RecipientKey = prog.RecipientKey

		next := ip + 1
		if out.Kind == report.OutcomeSuccess && out.Jump != "" {
			target, err := task.ResolveTarget(prog.Steps, out.Jump)
			switch {
			case err != nil:
				out.Kind, out.Message = report.OutcomeFatal, err.Error()
			case res.Jumps >= in.opts.JumpCap:
				out.Kind = report.OutcomeFatal
				out.Message = fmt.Sprintf("jump cap %d exceeded", in.opts.JumpCap)
				out.Tolerated = false
			default:
				res.Jumps++
				next = target
			}
		}

		if out.Kind == report.OutcomeCancelled {
			res.Outcomes = append(res.Outcomes, out.StepOutcome)
			res.Cancelled = true
			if observe != nil {
				res.Err = observe(out.StepOutcome)
			}
			return res
		}

		if !out.Succeeded() {
			out.Evidence = in.CaptureEvidence(ctx, prog.RecipientIndex, step.Index)
		}

		res.Outcomes = append(res.Outcomes, out.StepOutcome)
		if observe != nil {
			if err := observe(out.StepOutcome); err != nil {
				res.Err = err
				return res
			}
		}

		if !out.Succeeded() {
			failed := out.StepOutcome
			res.Failed = &failed
			return res
		}

		if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(throttle.DelayJitter)); err != nil {
			res.Cancelled = true
			return res
		}
		ip = next
	}
	return res
}
