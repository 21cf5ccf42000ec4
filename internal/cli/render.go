package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/Craig-0219/potato-autoA/internal/engine"
	"github.com/Craig-0219/potato-autoA/internal/report"
	"github.com/Craig-0219/potato-autoA/internal/state"
)

// Semantic colors for terminal output.
var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorWarning = lipgloss.Color("#FFC107")
	colorDanger  = lipgloss.Color("#e53935")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.Color("#808080")
)

// styles is bound to one output so colors are only emitted to terminals.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	danger  lipgloss.Style
	info    lipgloss.Style
	box     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true),
		label:   r.NewStyle().Width(12),
		muted:   r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Foreground(colorSuccess).Bold(true),
		warning: r.NewStyle().Foreground(colorWarning).Bold(true),
		danger:  r.NewStyle().Foreground(colorDanger).Bold(true),
		info:    r.NewStyle().Foreground(colorInfo),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// status colors a recipient status or exit reason.
func (s styles) status(v string) string {
	switch v {
	case string(report.StatusSuccess), "completed":
		return s.success.Render(v)
	case string(report.StatusDeferred), string(report.StatusSkipped), "global_stop":
		return s.warning.Render(v)
	case string(report.StatusFailed), string(report.StatusNotAttempted), "fatal", "definition_error", "locked":
		return s.danger.Render(v)
	case "cancelled":
		return s.muted.Render(v)
	default:
		return v
	}
}

func (s styles) field(name, value string) string {
	return s.label.Render(name) + value
}

// renderSummary prints the headline of a report: exit reason and counts.
func renderSummary(w io.Writer, rep *report.Report) {
	s := newStyles(w)
	lines := []string{
		s.title.Render("Run " + rep.RunID),
		s.field("task", rep.Task),
		s.field("result", s.status(rep.ExitReason)+stopSuffix(rep.StopReason)),
		s.field("duration", formatDuration(rep.Duration())),
		s.field("recipients", formatCounts(s, rep.Counts())),
	}
	if rep.DryRun {
		lines = append(lines, s.field("mode", s.info.Render("dry run: no input was sent")))
	}
	if rep.Error != "" {
		lines = append(lines, s.field("error", s.danger.Render(rep.Error)))
	}
	fmt.Fprintln(w, s.box.Render(strings.Join(lines, "\n")))
}

// renderReport prints the summary followed by one line per recipient and,
// with steps set, every step outcome.
func renderReport(w io.Writer, rep *report.Report, steps bool) {
	renderSummary(w, rep)
	s := newStyles(w)

	if len(rep.Recipients) > 0 {
		done, total := engine.Progress(rep.Recipients)
		fmt.Fprintf(w, "%d of %d recipients finished, %.0f%% of attempts succeeded\n",
			done, total, 100*engine.SuccessRate(rep.Recipients))

		labelWidth := len("RECIPIENT")
		for _, o := range rep.Recipients {
			labelWidth = max(labelWidth, utf8.RuneCountInString(o.Label))
		}
		labelWidth = min(labelWidth, 32)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-4s  %s  %-13s  %s\n", "#", padOrTruncate("RECIPIENT", labelWidth), "STATUS", "REASON")
		for _, o := range rep.Recipients {
			reason := o.Reason
			if o.FailedStep != "" {
				reason += " at " + o.FailedStep
			}
			fmt.Fprintf(w, "%-4d  %s  %s  %s\n",
				o.Index+1,
				padOrTruncate(o.Label, labelWidth),
				s.status(padOrTruncate(string(o.Status), 13)),
				s.muted.Render(reason))
		}
	}

	if !steps || len(rep.Steps) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, s.title.Render("Steps"))
	for _, o := range rep.Steps {
		where := string(o.Phase)
		if o.RecipientIndex >= 0 {
			where = fmt.Sprintf("r%d", o.RecipientIndex+1)
		}
		line := fmt.Sprintf("  %-9s %-24s %s", where, truncate(o.StepName, 24), stepKind(s, o))
		if o.Message != "" {
			line += " " + s.muted.Render(truncate(o.Message, 60))
		}
		if o.Evidence != "" {
			line += " " + s.info.Render(o.Evidence)
		}
		fmt.Fprintln(w, line)
	}
}

func stepKind(s styles, o report.StepOutcome) string {
	k := string(o.Kind)
	switch {
	case o.Kind == report.OutcomeSuccess && o.Suppressed:
		return s.info.Render(k + " (suppressed)")
	case o.Kind == report.OutcomeSuccess:
		return s.success.Render(k)
	case o.Tolerated:
		return s.warning.Render(k + " (optional)")
	default:
		return s.danger.Render(k)
	}
}

// renderCheckpoint prints where the next run of a task resumes.
func renderCheckpoint(w io.Writer, cp *state.Checkpoint) {
	s := newStyles(w)
	switch {
	case cp == nil:
		fmt.Fprintln(w, s.field("checkpoint", s.muted.Render("none")))
	case cp.LoopDone:
		fmt.Fprintln(w, s.field("checkpoint", "loop finished (run "+cp.RunID+")"))
	case cp.RecipientIndex < 0:
		fmt.Fprintln(w, s.field("checkpoint", "before the first recipient"))
	default:
		where := fmt.Sprintf("recipient %d (%s)", cp.RecipientIndex+1, cp.RecipientKey)
		if cp.RecipientDone {
			where += " done"
		} else if cp.StepIndex >= 0 {
			where += fmt.Sprintf(", after step %d", cp.StepIndex)
		}
		fmt.Fprintln(w, s.field("checkpoint", where+s.muted.Render(" at "+cp.UpdatedAt.Format(time.DateTime))))
	}
}

func formatCounts(s styles, counts map[report.RecipientStatus]int) string {
	order := []report.RecipientStatus{
		report.StatusSuccess, report.StatusFailed, report.StatusSkipped,
		report.StatusDeferred, report.StatusNotAttempted,
	}
	var parts []string
	for _, st := range order {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s.status(string(st))))
		}
	}
	if len(parts) == 0 {
		return s.muted.Render("none")
	}
	return strings.Join(parts, ", ")
}

func stopSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// padOrTruncate pads or truncates s to exactly width runes.
func padOrTruncate(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return truncate(s, width)
}

// truncate shortens s to width runes, ending in an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width >= 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}
