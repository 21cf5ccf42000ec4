package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetTask = `
name: greet-friends
variables:
  greeting: Hello
  count: 3
limits:
  max_recipients: 20
  interval_sec: [3, 8]
steps:
  - focus_app: {window: LINE}
  - ensure_logged_in: {templates: [home.png], timeout_sec: 30}
  - for_each_recipient: {}
  - screenshot: done
for_each_recipient:
  source: recipients.csv
  blacklist: blacklist.txt
  steps_ref: per_recipient
lists:
  per_recipient:
    - label: open
      locate_click: {templates: [chat.png, chat_dark.png], threshold: 0.93, timeout_sec: 5, offset: [40, 20]}
      retries: 1
    - type_text: "${greeting} ${name}"
    - press: ctrl+enter
    - assert_present: {templates: [sent.png], timeout_sec: 2}
      optional: true
    - wait: {min_sec: 1, max_sec: 2}
    - goto_step: {target: open, if_absent: {templates: [sent.png]}}
`

func TestParseFullTask(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(greetTask))
	require.NoError(t, err)

	assert.Equal(t, "greet-friends", def.Name)
	assert.Equal(t, "Hello", def.Variables["greeting"])
	assert.Equal(t, "3", def.Variables["count"])
	assert.Equal(t, 20, def.Limits.MaxRecipients)
	assert.Equal(t, []float64{3, 8}, def.Limits.IntervalSec)
	require.NotNil(t, def.ForEach)
	assert.True(t, def.ForEach.SkipBlacklisted())

	require.Len(t, def.Steps, 4)
	assert.Equal(t, FocusApp{Window: "LINE"}, def.Steps[0].Action)
	assert.Equal(t, Screenshot{Name: "done"}, def.Steps[3].Action)

	steps := def.Lists["per_recipient"]
	require.Len(t, steps, 6)

	lc, ok := steps[0].Action.(LocateClick)
	require.True(t, ok)
	assert.Equal(t, "open", steps[0].Label)
	assert.Equal(t, []string{"chat.png", "chat_dark.png"}, lc.Templates)
	assert.InDelta(t, 0.93, lc.Threshold, 1e-9)
	assert.Equal(t, []int{40, 20}, lc.Offset)
	require.NotNil(t, steps[0].Retries)
	assert.Equal(t, 1, *steps[0].Retries)

	assert.Equal(t, TypeText{Text: "${greeting} ${name}"}, steps[1].Action)
	assert.Equal(t, Press{Keys: []string{"ctrl", "enter"}}, steps[2].Action)
	assert.Equal(t, KindAssertPresent, steps[3].Kind())
	assert.True(t, steps[3].Optional)
	assert.Equal(t, Wait{MinSec: 1, MaxSec: 2}, steps[4].Action)

	g := steps[5].Action.(Goto)
	assert.Equal(t, "open", g.Target)
	require.NotNil(t, g.IfAbsent)
	assert.Equal(t, []string{"sent.png"}, g.IfAbsent.Templates)

	for i, s := range steps {
		assert.Equal(t, i, s.Index)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(greetTask))
	require.NoError(t, err)

	plan := def.Plan()
	assert.True(t, plan.Iterating())
	assert.Len(t, plan.Prologue, 2)
	assert.Len(t, plan.Repeated, 6)
	require.Len(t, plan.Epilogue, 1)
	assert.Equal(t, KindScreenshot, plan.Epilogue[0].Kind())
}

func TestPlanFlat(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte("name: flat\nsteps:\n  - click: {x: 1, y: 2}\n  - wait: 0.5\n"))
	require.NoError(t, err)

	plan := def.Plan()
	assert.False(t, plan.Iterating())
	assert.Len(t, plan.Prologue, 2)
	assert.Equal(t, Wait{Sec: 0.5}, plan.Prologue[1].Action)
}

func TestParseShorthands(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(`
name: short
steps:
  - label: top
  - upload_file: ./a.png
  - upload_dir: {path: ./photos, confirm: {templates: [ok.png]}}
  - assert_absent: {templates: [err.png]}
  - press: [ctrl, v]
  - goto_step: top
`))
	require.NoError(t, err)

	assert.Equal(t, Label{Name: "top"}, def.Steps[0].Action)
	assert.Equal(t, "top", def.Steps[0].Label)
	assert.Equal(t, KindUploadFile, def.Steps[1].Kind())
	assert.Equal(t, KindUploadDir, def.Steps[2].Kind())
	assert.NotNil(t, def.Steps[2].Action.(Upload).Confirm)
	assert.Equal(t, KindAssertAbsent, def.Steps[3].Kind())
	assert.Equal(t, Press{Keys: []string{"ctrl", "v"}}, def.Steps[4].Action)
	assert.Equal(t, Goto{Target: "top"}, def.Steps[5].Action)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown kind", "name: x\nsteps:\n  - teleport: {x: 1}\n", "unknown step kind"},
		{"two actions", "name: x\nsteps:\n  - click: {x: 1, y: 1}\n    press: enter\n", "more than one action"},
		{"no action", "name: x\nsteps:\n  - optional: true\n", "no action"},
		{"missing name", "steps:\n  - press: enter\n", "name: is required"},
		{"duplicate label", "name: x\nsteps:\n  - label: a\n  - label: a\n", "duplicate label"},
		{"unknown goto target", "name: x\nsteps:\n  - goto_step: nowhere\n", "unknown target"},
		{"goto index out of range", "name: x\nsteps:\n  - goto_step: 5\n", "outside this phase"},
		{"epilogue goto into prologue", "name: x\nsteps:\n  - label: top\n  - for_each_recipient: {}\n  - goto_step: top\nfor_each_recipient: {source: r.csv, steps_ref: l}\nlists:\n  l:\n    - press: enter\n", "unknown target"},
		{"prologue goto into epilogue", "name: x\nsteps:\n  - goto_step: 2\n  - for_each_recipient: {}\n  - press: esc\nfor_each_recipient: {source: r.csv, steps_ref: l}\nlists:\n  l:\n    - press: enter\n", "outside this phase"},
		{"goto onto marker", "name: x\nsteps:\n  - goto_step: loop\n  - for_each_recipient: {}\n    label: loop\nfor_each_recipient: {source: r.csv, steps_ref: l}\nlists:\n  l:\n    - press: enter\n", "unknown target"},
		{"threshold out of range", "name: x\nsteps:\n  - locate_click: {templates: [a.png], threshold: 0.5}\n", "threshold"},
		{"no templates", "name: x\nsteps:\n  - assert_present: {}\n", "template"},
		{"inverted wait", "name: x\nsteps:\n  - wait: {min_sec: 3, max_sec: 1}\n", "min_sec"},
		{"wait min without max", "name: x\nsteps:\n  - wait: {min_sec: 2}\n", "min_sec requires max_sec"},
		{"bad interval", "name: x\nlimits: {interval_sec: [5, 1]}\nsteps:\n  - press: enter\n", "interval_sec"},
		{"unknown steps_ref", "name: x\nsteps:\n  - for_each_recipient: {}\nfor_each_recipient: {source: r.csv, steps_ref: nope}\n", "unknown list"},
		{"marker without block", "name: x\nsteps:\n  - for_each_recipient: {}\n", "requires a for_each_recipient block"},
		{"marker in list", "name: x\nsteps: []\nfor_each_recipient: {source: r.csv, steps_ref: l}\nlists:\n  l:\n    - for_each_recipient: {}\n", "only allowed in the main steps"},
		{"malformed placeholder", "name: x\nsteps:\n  - type_text: \"hi ${name\"\n", "malformed placeholder"},
		{"negative retries", "name: x\nsteps:\n  - press: enter\n    retries: -1\n", "retries"},
		{"invalid yaml", "name: [\n", "definition error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var de *DefinitionError
			assert.True(t, errors.As(err, &de), "expected a DefinitionError, got %T", err)
		})
	}
}

func TestLoadResolvesBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(greetTask), 0o644))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, def.BaseDir)
	assert.Equal(t, filepath.Join(dir, "recipients.csv"), def.Path(def.ForEach.Source))
	assert.Equal(t, "/abs/x.png", def.Path("/abs/x.png"))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStepName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "open", Step{Label: "open", Action: Press{}}.Name())
	assert.Equal(t, "#3:press", Step{Index: 3, Action: Press{}}.Name())
}

func TestStepAnchors(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(`
name: anchors
steps:
  - locate_click: {templates: [a.png, b.png]}
  - goto_step: {target: "0", if_absent: {templates: [c.png]}}
  - upload_file: {path: x.txt, confirm: {templates: [d.png]}}
  - upload_file: y.txt
  - assert_absent: {templates: [e.png]}
  - press: enter
`))
	require.NoError(t, err)

	var got []string
	for _, s := range def.Steps {
		for _, a := range s.Anchors() {
			got = append(got, a.Templates...)
		}
	}
	assert.Equal(t, []string{"a.png", "b.png", "c.png", "d.png", "e.png"}, got)
}
