package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/ports"
)

// fakeRunner replies to each op with a canned response and records the
// decoded requests.
type fakeRunner struct {
	mu       sync.Mutex
	replies  map[string]string
	err      error
	requests []Request
}

func (f *fakeRunner) Run(ctx context.Context, op string, stdin []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(stdin, &req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if reply, ok := f.replies[op]; ok {
		return []byte(reply), nil
	}
	return []byte(`{"ok":true}`), nil
}

func (f *fakeRunner) last() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestExecLocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  *ports.Match
	}{
		{
			name:  "match",
			reply: `{"ok":true,"match":{"x":10,"y":20,"confidence":0.95,"template":"a.png"}}`,
			want:  &ports.Match{Point: ports.Point{X: 10, Y: 20}, Confidence: 0.95, Template: "a.png"},
		},
		{name: "no match", reply: `{"ok":true}`},
		{name: "below threshold", reply: `{"ok":true,"match":{"x":1,"y":1,"confidence":0.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &fakeRunner{replies: map[string]string{OpLocate: tt.reply}}
			d := New(r, 0)

			m, err := d.Locate(context.Background(), ports.LocateRequest{
				Templates: []string{"a.png", "b.png"},
				Threshold: 0.92,
				Region:    &ports.Region{X: 0, Y: 0, W: 100, H: 50},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)

			req := r.last()
			assert.Equal(t, OpLocate, req.Op)
			assert.Equal(t, []string{"a.png", "b.png"}, req.Templates)
			assert.Equal(t, 100, req.Region.W)
		})
	}
}

func TestExecInputRequests(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	d := New(r, time.Second)
	ctx := context.Background()

	require.NoError(t, d.Click(ctx, ports.Point{X: 1, Y: 2}, "right", true))
	assert.Equal(t, Request{Op: OpClick, X: 1, Y: 2, Button: "right", Double: true}, r.last())

	require.NoError(t, d.Drag(ctx, ports.Point{X: 1, Y: 2}, ports.Point{X: 3, Y: 4}, 250*time.Millisecond))
	assert.Equal(t, Request{Op: OpDrag, X: 1, Y: 2, ToX: 3, ToY: 4, DurationMS: 250}, r.last())

	require.NoError(t, d.Type(ctx, "こんにちは"))
	assert.Equal(t, "こんにちは", r.last().Text)

	require.NoError(t, d.Press(ctx, []string{"ctrl", "v"}))
	assert.Equal(t, []string{"ctrl", "v"}, r.last().Keys)

	require.NoError(t, d.OpenFileDialog(ctx, true))
	assert.True(t, r.last().Dir)

	require.NoError(t, d.Move(ctx, ports.Point{X: 5, Y: 6}, 0))
	require.NoError(t, d.Capture(ctx, "/tmp/shot.png"))
	assert.Equal(t, "/tmp/shot.png", r.last().Path)
	require.NoError(t, d.Highlight(ctx, ports.Region{X: 1, Y: 1, W: 2, H: 2}, "click"))
	assert.Equal(t, "click", r.last().Label)
}

func TestExecInputFailure(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{replies: map[string]string{OpType: `{"ok":false,"error":"keyboard busy"}`}}
	d := New(r, 0)

	err := d.Type(context.Background(), "hi")
	require.ErrorIs(t, err, ports.ErrInputFailure)
	assert.Contains(t, err.Error(), "keyboard busy")
}

func TestExecUnsupported(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{replies: map[string]string{OpHighlight: `{"unsupported":true}`}}
	d := New(r, 0)

	err := d.Highlight(context.Background(), ports.Region{}, "x")
	assert.ErrorIs(t, err, ports.ErrNotSupported)
}

func TestExecFocus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		runErr  error
		want    bool
		wantErr bool
	}{
		{name: "focused", reply: `{"ok":true,"focused":true}`, want: true},
		{name: "not focused", reply: `{"ok":true,"focused":false}`},
		{name: "refused", reply: `{"ok":false,"error":"no such window"}`},
		{name: "helper broken", runErr: errors.New("exec: not found"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &fakeRunner{replies: map[string]string{OpFocus: tt.reply}, err: tt.runErr}
			ok, err := New(r, 0).FocusWindow(context.Background(), "LINE")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, "LINE", r.last().Window)
		})
	}
}

func TestExecBadResponse(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{replies: map[string]string{OpLocate: "not json"}}
	_, err := New(r, 0).Locate(context.Background(), ports.LocateRequest{Templates: []string{"a.png"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse locate response")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	_, err := FromConfig(config.Driver{})
	assert.ErrorIs(t, err, ErrNoCommand)

	d, err := FromConfig(config.Driver{Command: "autoa-helper", Args: []string{"--display", ":0"}, TimeoutSec: 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d.timeout)
	runner, ok := d.runner.(*CommandRunner)
	require.True(t, ok)
	assert.Equal(t, "autoa-helper", runner.Command)
}

// helperRunner re-executes the test binary as the helper process.
func helperRunner() *CommandRunner {
	return &CommandRunner{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"AUTOA_WANT_HELPER_PROCESS=1"},
	}
}

func TestCommandRunner(t *testing.T) {
	t.Parallel()

	d := New(helperRunner(), 10*time.Second)
	ctx := context.Background()

	m, err := d.Locate(ctx, ports.LocateRequest{Templates: []string{"chat.png"}, Threshold: 0.9})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ports.Point{X: 40, Y: 60}, m.Point)
	assert.Equal(t, "chat.png", m.Template)

	require.NoError(t, d.Type(ctx, "hello"))

	err = d.Type(ctx, "crash")
	require.ErrorIs(t, err, ports.ErrInputFailure)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "helper crashed")
}

func TestCommandRunnerTimeout(t *testing.T) {
	t.Parallel()

	d := New(helperRunner(), 200*time.Millisecond)
	err := d.Press(context.Background(), []string{"hang"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandRunnerNoCommand(t *testing.T) {
	t.Parallel()

	_, err := (&CommandRunner{}).Run(context.Background(), OpType, nil)
	assert.ErrorIs(t, err, ErrNoCommand)
}

// TestHelperProcess is not a real test. It plays the helper executable
// for TestCommandRunner.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("AUTOA_WANT_HELPER_PROCESS") != "1" {
		return
	}

	op := os.Args[len(os.Args)-1]
	var req Request
	data, _ := io.ReadAll(os.Stdin)
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(2)
	}

	switch {
	case op == OpLocate:
		fmt.Printf(`{"ok":true,"match":{"x":40,"y":60,"confidence":0.99,"template":%q}}`, req.Templates[0])
	case op == OpType && req.Text == "crash":
		fmt.Fprintln(os.Stderr, "helper crashed")
		os.Exit(3)
	case op == OpPress && len(req.Keys) == 1 && req.Keys[0] == "hang":
		time.Sleep(10 * time.Second)
	default:
		fmt.Print(`{"ok":true}`)
	}
	os.Exit(0)
}
