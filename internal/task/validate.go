package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Craig-0219/potato-autoA/internal/config"
)

// Validate checks a parsed definition. All problems are reported together.
func Validate(d *Definition) error {
	var errs []error
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, defErr(path, format, args...))
	}

	if strings.TrimSpace(d.Name) == "" {
		add("name", "is required")
	}
	if len(d.Steps) == 0 && d.ForEach == nil {
		add("steps", "at least one step is required")
	}
	if r := d.Limits.IntervalSec; len(r) != 0 && (len(r) != 2 || r[0] < 0 || r[0] > r[1]) {
		add("limits.interval_sec", "must be [min, max] with 0 <= min <= max")
	}
	if d.Limits.MaxRecipients < 0 {
		add("limits.max_recipients", "must not be negative")
	}

	markers := 0
	for _, s := range d.Steps {
		if s.Kind() == KindForEachRecipient {
			markers++
		}
	}
	switch {
	case markers > 1:
		add("steps", "for_each_recipient may appear at most once")
	case markers == 1 && d.ForEach == nil:
		add("steps", "for_each_recipient step requires a for_each_recipient block")
	}

	if d.ForEach != nil {
		if d.ForEach.Source == "" {
			add("for_each_recipient.source", "is required")
		}
		if d.ForEach.StepsRef == "" {
			add("for_each_recipient.steps_ref", "is required")
		} else if _, ok := d.Lists[d.ForEach.StepsRef]; !ok {
			add("for_each_recipient.steps_ref", "unknown list %q", d.ForEach.StepsRef)
		}
		switch d.ForEach.MatchPolicy {
		case "", config.MatchIDOnly, config.MatchIDThenName, config.MatchIDOrName:
		default:
			add("for_each_recipient.match_policy", "unknown policy %q", d.ForEach.MatchPolicy)
		}
	}

	errs = append(errs, validateList("steps", d.Steps, true)...)
	for name, steps := range d.Lists {
		errs = append(errs, validateList("lists."+name, steps, false)...)
	}

	return errors.Join(errs...)
}

func validateList(path string, steps []Step, main bool) []error {
	var errs []error
	add := func(s Step, format string, args ...interface{}) {
		errs = append(errs, defErr(fmt.Sprintf("%s[%d].%s", path, s.Index, s.Kind()), format, args...))
	}

	labels := map[string]int{}
	for _, s := range steps {
		if s.Label == "" {
			continue
		}
		if prev, ok := labels[s.Label]; ok {
			add(s, "duplicate label %q (first at step %d)", s.Label, prev)
			continue
		}
		labels[s.Label] = s.Index
	}

	for i, s := range steps {
		switch a := s.Action.(type) {
		case LocateClick:
			validateAnchor(a.Anchor, func(m string) { add(s, "%s", m) })
			if n := len(a.Offset); n != 0 && n != 2 {
				add(s, "offset must be [dx, dy]")
			}
		case EnsureLoggedIn:
			validateAnchor(a.Anchor, func(m string) { add(s, "%s", m) })
		case Assert:
			validateAnchor(a.Anchor, func(m string) { add(s, "%s", m) })
		case DragDrop:
			if len(a.From) != 2 || len(a.To) != 2 {
				add(s, "from and to must be [x, y]")
			}
		case TypeText:
			if a.Text == "" {
				add(s, "text is required")
			}
		case Press:
			if len(a.Keys) == 0 {
				add(s, "keys are required")
			}
		case Wait:
			if a.Sec < 0 || a.MinSec < 0 || a.MaxSec < 0 {
				add(s, "durations must not be negative")
			}
			if a.MinSec > 0 && a.MaxSec == 0 {
				add(s, "min_sec requires max_sec")
			}
			if a.IsRange() && a.MinSec > a.MaxSec {
				add(s, "min_sec must not exceed max_sec")
			}
		case Upload:
			if a.Path == "" {
				add(s, "path is required")
			}
			if a.Confirm != nil {
				validateAnchor(*a.Confirm, func(m string) { add(s, "confirm: %s", m) })
			}
		case Goto:
			if _, err := ResolveTarget(phaseOf(steps, i), a.Target); err != nil {
				add(s, "%v", err)
			}
			if a.IfPresent != nil && a.IfAbsent != nil {
				add(s, "if_present and if_absent are mutually exclusive")
			}
			for _, cond := range []*Anchor{a.IfPresent, a.IfAbsent} {
				if cond != nil {
					validateAnchor(*cond, func(m string) { add(s, "%s", m) })
				}
			}
		case Label:
			if a.Name == "" {
				add(s, "name is required")
			}
		case ForEachRecipient:
			if !main {
				add(s, "for_each_recipient is only allowed in the main steps")
			}
		}

		for _, text := range s.Texts() {
			if strings.Count(text, "${") != len(Placeholders(text)) {
				add(s, "malformed placeholder in %q", text)
			}
		}
	}
	return errs
}

func validateAnchor(a Anchor, report func(string)) {
	if len(a.Templates) == 0 {
		report("at least one template is required")
	}
	for _, t := range a.Templates {
		if strings.TrimSpace(t) == "" {
			report("template names must not be empty")
		}
	}
	if a.Threshold != 0 && (a.Threshold < config.MinThreshold || a.Threshold > config.MaxThreshold) {
		report(fmt.Sprintf("threshold %.2f outside [%.2f, %.2f]", a.Threshold, config.MinThreshold, config.MaxThreshold))
	}
	if n := len(a.Region); n != 0 && (n != 4 || a.Region[2] <= 0 || a.Region[3] <= 0) {
		report("region must be [x, y, width, height] with positive size")
	}
	if a.TimeoutSec < 0 {
		report("timeout_sec must not be negative")
	}
}

// phaseOf returns the run of steps containing steps[i] that is bounded by
// for_each_recipient markers. A goto cannot leave its phase.
func phaseOf(steps []Step, i int) []Step {
	lo, hi := 0, len(steps)
	for j := i - 1; j >= 0; j-- {
		if steps[j].Kind() == KindForEachRecipient {
			lo = j + 1
			break
		}
	}
	for j := i + 1; j < len(steps); j++ {
		if steps[j].Kind() == KindForEachRecipient {
			hi = j
			break
		}
	}
	return steps[lo:hi]
}

// ResolveTarget maps a goto target to a position in steps. The target is a
// label or a step's numeric index within its owning list; either must name
// a step of steps itself.
func ResolveTarget(steps []Step, target string) (int, error) {
	if target == "" {
		return 0, errors.New("target is required")
	}
	for i, s := range steps {
		if s.Label == target {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(target); err == nil {
		for i, s := range steps {
			if s.Index == n {
				return i, nil
			}
		}
		return 0, fmt.Errorf("target index %d is outside this phase", n)
	}
	return 0, fmt.Errorf("unknown target %q", target)
}
