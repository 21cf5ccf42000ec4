package task

import "strconv"

// Kind names a step action as written in a task file.
type Kind string

// Step action kinds.
const (
	KindLocateClick      Kind = "locate_click"
	KindClick            Kind = "click"
	KindMove             Kind = "move"
	KindDragDrop         Kind = "drag_drop"
	KindTypeText         Kind = "type_text"
	KindPress            Kind = "press"
	KindWait             Kind = "wait"
	KindUploadFile       Kind = "upload_file"
	KindUploadDir        Kind = "upload_dir"
	KindAssertPresent    Kind = "assert_present"
	KindAssertAbsent     Kind = "assert_absent"
	KindScreenshot       Kind = "screenshot"
	KindFocusApp         Kind = "focus_app"
	KindEnsureLoggedIn   Kind = "ensure_logged_in"
	KindGotoStep         Kind = "goto_step"
	KindLabel            Kind = "label"
	KindForEachRecipient Kind = "for_each_recipient"
)

// Kinds lists every action kind accepted in a task file.
var Kinds = []Kind{
	KindLocateClick, KindClick, KindMove, KindDragDrop, KindTypeText, KindPress,
	KindWait, KindUploadFile, KindUploadDir, KindAssertPresent, KindAssertAbsent,
	KindScreenshot, KindFocusApp, KindEnsureLoggedIn, KindGotoStep, KindLabel,
	KindForEachRecipient,
}

// Action is the closed set of step parameter types. Only types in this
// package implement it.
type Action interface {
	Kind() Kind
	isAction()
}

// Anchor identifies a UI element by one or more template images.
// Templates are tried in order; the first match wins.
type Anchor struct {
	Templates  []string `yaml:"templates"`
	Threshold  float64  `yaml:"threshold,omitempty"`   // 0 means the configured default
	Region     []int    `yaml:"region,omitempty"`      // [x, y, w, h]; nil means the configured default
	TimeoutSec float64  `yaml:"timeout_sec,omitempty"` // 0 means the configured default
}

// LocateClick waits for an anchor and clicks it.
type LocateClick struct {
	Anchor       `yaml:",inline"`
	Offset       []int  `yaml:"offset,omitempty"` // [dx, dy] relative to the match point
	Button       string `yaml:"button,omitempty"`
	Double       bool   `yaml:"double,omitempty"`
	VerifyAbsent bool   `yaml:"verify_absent,omitempty"`
}

// Click clicks fixed screen coordinates.
type Click struct {
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Button string `yaml:"button,omitempty"`
}

// Move moves the pointer.
type Move struct {
	X          int `yaml:"x"`
	Y          int `yaml:"y"`
	DurationMS int `yaml:"duration_ms,omitempty"`
}

// DragDrop drags from one point to another.
type DragDrop struct {
	From       []int `yaml:"from"`
	To         []int `yaml:"to"`
	DurationMS int   `yaml:"duration_ms,omitempty"`
}

// TypeText types text after placeholder resolution.
type TypeText struct {
	Text string `yaml:"text"`
}

// Press presses a key combination.
type Press struct {
	Keys []string `yaml:"keys"`
}

// Wait sleeps for Sec, or for a uniform sample of [MinSec, MaxSec] when a range is set.
type Wait struct {
	Sec    float64 `yaml:"sec,omitempty"`
	MinSec float64 `yaml:"min_sec,omitempty"`
	MaxSec float64 `yaml:"max_sec,omitempty"`
}

// IsRange reports whether the wait samples from a range.
func (w Wait) IsRange() bool {
	return w.MaxSec > 0
}

// Upload drives a file dialog: type the path, confirm, optionally wait for a confirmation anchor.
type Upload struct {
	Path    string  `yaml:"path"`
	Confirm *Anchor `yaml:"confirm,omitempty"`
	Dir     bool    `yaml:"-"`
}

// Assert checks that an anchor is present, or absent when Absent is set.
type Assert struct {
	Anchor `yaml:",inline"`
	Absent bool `yaml:"-"`
}

// Screenshot captures evidence under Name.
type Screenshot struct {
	Name string `yaml:"name,omitempty"`
}

// FocusApp brings the target window to the foreground.
type FocusApp struct {
	Window string `yaml:"window,omitempty"`
}

// EnsureLoggedIn waits for an anchor that is only visible in a logged-in session.
type EnsureLoggedIn struct {
	Anchor `yaml:",inline"`
}

// Goto moves the instruction pointer to Target (a label or index).
// With IfPresent/IfAbsent the jump is conditional on a single locate scan.
type Goto struct {
	Target    string  `yaml:"target"`
	IfPresent *Anchor `yaml:"if_present,omitempty"`
	IfAbsent  *Anchor `yaml:"if_absent,omitempty"`
}

// Label is a no-op jump anchor.
type Label struct {
	Name string `yaml:"name"`
}

// ForEachRecipient marks where the recipient loop runs in the main step list.
type ForEachRecipient struct{}

func (LocateClick) Kind() Kind      { return KindLocateClick }
func (Click) Kind() Kind            { return KindClick }
func (Move) Kind() Kind             { return KindMove }
func (DragDrop) Kind() Kind         { return KindDragDrop }
func (TypeText) Kind() Kind         { return KindTypeText }
func (Press) Kind() Kind            { return KindPress }
func (Wait) Kind() Kind             { return KindWait }
func (Screenshot) Kind() Kind       { return KindScreenshot }
func (FocusApp) Kind() Kind         { return KindFocusApp }
func (EnsureLoggedIn) Kind() Kind   { return KindEnsureLoggedIn }
func (Goto) Kind() Kind             { return KindGotoStep }
func (Label) Kind() Kind            { return KindLabel }
func (ForEachRecipient) Kind() Kind { return KindForEachRecipient }

func (u Upload) Kind() Kind {
	if u.Dir {
		return KindUploadDir
	}
	return KindUploadFile
}

func (a Assert) Kind() Kind {
	if a.Absent {
		return KindAssertAbsent
	}
	return KindAssertPresent
}

func (LocateClick) isAction()      {}
func (Click) isAction()            {}
func (Move) isAction()             {}
func (DragDrop) isAction()         {}
func (TypeText) isAction()         {}
func (Press) isAction()            {}
func (Wait) isAction()             {}
func (Upload) isAction()           {}
func (Assert) isAction()           {}
func (Screenshot) isAction()       {}
func (FocusApp) isAction()         {}
func (EnsureLoggedIn) isAction()   {}
func (Goto) isAction()             {}
func (Label) isAction()            {}
func (ForEachRecipient) isAction() {}

// Step is one instruction. Index is its position within the owning list.
type Step struct {
	Index    int
	Label    string
	Optional bool
	Retries  *int // overrides vision.retries for locate-dependent steps
	Action   Action
}

// Kind returns the kind of the step's action.
func (s Step) Kind() Kind {
	if s.Action == nil {
		return ""
	}
	return s.Action.Kind()
}

// Name returns the label when set, otherwise "#<index>:<kind>".
func (s Step) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "#" + strconv.Itoa(s.Index) + ":" + string(s.Kind())
}

// Anchors returns every template anchor the step may scan for.
func (s Step) Anchors() []Anchor {
	switch a := s.Action.(type) {
	case LocateClick:
		return []Anchor{a.Anchor}
	case Assert:
		return []Anchor{a.Anchor}
	case EnsureLoggedIn:
		return []Anchor{a.Anchor}
	case Upload:
		if a.Confirm != nil {
			return []Anchor{*a.Confirm}
		}
	case Goto:
		var out []Anchor
		if a.IfPresent != nil {
			out = append(out, *a.IfPresent)
		}
		if a.IfAbsent != nil {
			out = append(out, *a.IfAbsent)
		}
		return out
	}
	return nil
}

// Limits are per-task overrides for the throttle configuration.
type Limits struct {
	MaxRecipients int       `yaml:"max_recipients,omitempty"`
	IntervalSec   []float64 `yaml:"interval_sec,omitempty"`
}

// ForEachBlock configures the recipient loop.
type ForEachBlock struct {
	Source            string `yaml:"source"`
	SkipIfBlacklisted *bool  `yaml:"skip_if_blacklisted,omitempty"`
	Blacklist         string `yaml:"blacklist,omitempty"`
	Unsubscribe       string `yaml:"unsubscribe,omitempty"`
	StepsRef          string `yaml:"steps_ref"`
	MatchPolicy       string `yaml:"match_policy,omitempty"`
}

// SkipBlacklisted reports whether blacklisted/unsubscribed recipients are skipped (default true).
func (b ForEachBlock) SkipBlacklisted() bool {
	return b.SkipIfBlacklisted == nil || *b.SkipIfBlacklisted
}

// Definition is a loaded task file. It is not modified after Load returns.
type Definition struct {
	Name      string            `yaml:"name"`
	Variables map[string]string `yaml:"variables,omitempty"`
	Limits    Limits            `yaml:"limits,omitempty"`
	Steps     []Step            `yaml:"steps"`
	ForEach   *ForEachBlock     `yaml:"for_each_recipient,omitempty"`
	Lists     map[string][]Step `yaml:"lists,omitempty"`

	// BaseDir is the directory of the task file; relative paths resolve against it.
	BaseDir string `yaml:"-"`
}

// Plan is a definition expanded into the lists the flow controller executes.
type Plan struct {
	Prologue []Step
	Repeated []Step // nil for a task without a recipient loop
	Epilogue []Step
}

// Iterating reports whether the plan has a recipient loop.
func (p Plan) Iterating() bool {
	return p.Repeated != nil
}

// Plan splits the main steps around the for_each_recipient marker.
// Without a marker the loop runs after every main step.
func (d *Definition) Plan() Plan {
	if d.ForEach == nil {
		return Plan{Prologue: d.Steps}
	}

	repeated := d.Lists[d.ForEach.StepsRef]
	if repeated == nil {
		repeated = []Step{}
	}
	for i, s := range d.Steps {
		if s.Kind() == KindForEachRecipient {
			return Plan{Prologue: d.Steps[:i], Repeated: repeated, Epilogue: d.Steps[i+1:]}
		}
	}
	return Plan{Prologue: d.Steps, Repeated: repeated}
}
