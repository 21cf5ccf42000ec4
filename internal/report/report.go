// Package report accumulates the outcome of a run: one StepOutcome per
// executed step and one RecipientOutcome per recipient, plus the
// append-only event stream handed to evidence sinks.
package report

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind classifies a step result.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeTimeout         OutcomeKind = "timeout"
	OutcomeAssertionFailed OutcomeKind = "assertion_failed"
	OutcomeInputFailure    OutcomeKind = "input_failure"
	OutcomeFatal           OutcomeKind = "fatal"
	OutcomeCancelled       OutcomeKind = "cancelled"
)

// Tolerable reports whether an optional step may absorb this outcome.
func (k OutcomeKind) Tolerable() bool {
	switch k {
	case OutcomeNotFound, OutcomeTimeout, OutcomeAssertionFailed:
		return true
	}
	return false
}

// Phase locates a step within the run.
type Phase string

const (
	PhasePrologue  Phase = "prologue"
	PhaseRecipient Phase = "recipient"
	PhaseEpilogue  Phase = "epilogue"
)

// StepOutcome is the immutable record of one executed step.
type StepOutcome struct {
	Phase          Phase       `json:"phase"`
	RecipientIndex int         `json:"recipient_index"` // -1 outside the recipient loop
	RecipientKey   string      `json:"recipient_key,omitempty"`
	StepIndex      int         `json:"step_index"`
	StepName       string      `json:"step_name"`
	Action         string      `json:"action"`
	Kind           OutcomeKind `json:"kind"`
	Attempts       int         `json:"attempts"`
	RetriesUsed    int         `json:"retries_used"`
	Optional       bool        `json:"optional,omitempty"`
	Tolerated      bool        `json:"tolerated,omitempty"`
	Suppressed     bool        `json:"suppressed,omitempty"` // input withheld by dry run
	Message        string      `json:"message,omitempty"`
	MatchX         *int        `json:"match_x,omitempty"`
	MatchY         *int        `json:"match_y,omitempty"`
	Template       string      `json:"template,omitempty"`
	Evidence       string      `json:"evidence,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// Succeeded reports whether the step succeeded or its failure was tolerated.
func (o StepOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess || o.Tolerated
}

// RecipientStatus is the final disposition of a recipient.
type RecipientStatus string

const (
	StatusSuccess      RecipientStatus = "success"
	StatusFailed       RecipientStatus = "failed"
	StatusSkipped      RecipientStatus = "skipped"
	StatusDeferred     RecipientStatus = "deferred"
	StatusNotAttempted RecipientStatus = "not_attempted"
)

// RecipientOutcome is the immutable record of one recipient.
type RecipientOutcome struct {
	Index      int             `json:"index"`
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Status     RecipientStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	FailedStep string          `json:"failed_step,omitempty"`
	Failure    OutcomeKind     `json:"failure,omitempty"`
	StepsRun   int             `json:"steps_run"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Report is the result of a run. It is produced however the run ends.
type Report struct {
	mu sync.Mutex

	RunID      string             `json:"run_id"`
	Task       string             `json:"task"`
	DryRun     bool               `json:"dry_run,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
	ExitReason string             `json:"exit_reason,omitempty"`
	StopReason string             `json:"stop_reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Steps      []StepOutcome      `json:"steps"`
	Recipients []RecipientOutcome `json:"recipients"`

	sinks []Sink
	seq   uint64
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// New creates a Report that forwards every record to sinks.
func New(runID, taskName string, started time.Time, sinks ...Sink) *Report {
	return &Report{
		RunID:      runID,
		Task:       taskName,
		StartedAt:  started,
		Steps:      []StepOutcome{},
		Recipients: []RecipientOutcome{},
		sinks:      sinks,
	}
}

// Start emits the run_started event.
func (r *Report) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emit(EventRunStarted, RunInfo{RunID: r.RunID, Task: r.Task, DryRun: r.DryRun, At: r.StartedAt})
}

// AddStep appends a step outcome.
func (r *Report) AddStep(o StepOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, o)
	return r.emit(EventStep, o)
}

// AddRecipient appends a recipient outcome.
func (r *Report) AddRecipient(o RecipientOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Recipients = append(r.Recipients, o)
	return r.emit(EventRecipient, o)
}

// Finish stamps the end of the run and emits run_finished.
func (r *Report) Finish(at time.Time, exitReason, stopReason string, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = at
	r.ExitReason = exitReason
	r.StopReason = stopReason
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r.emit(EventRunFinished, RunInfo{
		RunID:      r.RunID,
		Task:       r.Task,
		DryRun:     r.DryRun,
		At:         at,
		ExitReason: exitReason,
		StopReason: stopReason,
		Error:      r.Error,
		Counts:     r.countsLocked(),
	})
}

func (r *Report) emit(t EventType, data any) error {
	if len(r.sinks) == 0 {
		return nil
	}
	r.seq++
	ev, err := NewEvent(r.seq, t, r.RunID, data)
	if err != nil {
		return err
	}
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Emit(ev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink: %w", err)
		}
	}
	return firstErr
}

// Counts tallies recipient statuses.
func (r *Report) Counts() map[RecipientStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countsLocked()
}

func (r *Report) countsLocked() map[RecipientStatus]int {
	counts := map[RecipientStatus]int{}
	for _, o := range r.Recipients {
		counts[o.Status]++
	}
	return counts
}

// RecipientByKey finds a recipient outcome.
func (r *Report) RecipientByKey(key string) (RecipientOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Recipients {
		if o.Key == key {
			return o, true
		}
	}
	return RecipientOutcome{}, false
}

// Duration returns the wall-clock length of a finished run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// EvidencePath returns the screenshot path for a failed step. Steps
// outside the recipient loop use "main" in place of the recipient index.
func EvidencePath(dir, runID string, recipientIndex, stepIndex int) string {
	r := "main"
	if recipientIndex >= 0 {
		r = "r" + strconv.Itoa(recipientIndex)
	}
	return filepath.Join(dir, runID, fmt.Sprintf("%s-step%d.png", r, stepIndex))
}

// NamedEvidencePath returns the path for an explicit screenshot step.
func NamedEvidencePath(dir, runID, name string) string {
	return filepath.Join(dir, runID, filepath.Base(name)+".png")
}
