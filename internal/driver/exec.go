// Package driver implements the capability ports on top of an external
// helper executable. Each primitive is one invocation of the helper:
// the operation name is appended to the configured arguments, a JSON
// request is written to stdin and a JSON response is read from stdout.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Craig-0219/potato-autoA/internal/config"
	"github.com/Craig-0219/potato-autoA/internal/logging"
	"github.com/Craig-0219/potato-autoA/internal/ports"
)

// ErrNoCommand is returned by FromConfig when driver.command is empty.
var ErrNoCommand = errors.New("driver.command is not configured")

// Operations understood by the helper.
const (
	OpLocate    = "locate"
	OpClick     = "click"
	OpMove      = "move"
	OpDrag      = "drag"
	OpType      = "type"
	OpPress     = "press"
	OpFocus     = "focus"
	OpDialog    = "open_dialog"
	OpCapture   = "capture"
	OpHighlight = "highlight"
)

// Request is the JSON document written to the helper's stdin.
type Request struct {
	Op         string        `json:"op"`
	Templates  []string      `json:"templates,omitempty"`
	Threshold  float64       `json:"threshold,omitempty"`
	Region     *ports.Region `json:"region,omitempty"`
	X          int           `json:"x,omitempty"`
	Y          int           `json:"y,omitempty"`
	ToX        int           `json:"to_x,omitempty"`
	ToY        int           `json:"to_y,omitempty"`
	Button     string        `json:"button,omitempty"`
	Double     bool          `json:"double,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
	Text       string        `json:"text,omitempty"`
	Keys       []string      `json:"keys,omitempty"`
	Window     string        `json:"window,omitempty"`
	Dir        bool          `json:"dir,omitempty"`
	Path       string        `json:"path,omitempty"`
	Label      string        `json:"label,omitempty"`
}

// Response is the JSON document the helper prints on stdout.
type Response struct {
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	Unsupported bool         `json:"unsupported,omitempty"`
	Match       *ports.Match `json:"match,omitempty"`
	Focused     bool         `json:"focused,omitempty"`
}

// Runner executes one helper invocation. This abstraction allows for
// testing without a helper binary.
type Runner interface {
	Run(ctx context.Context, op string, stdin []byte) ([]byte, error)
}

// CommandRunner runs the helper with os/exec.
type CommandRunner struct {
	Command string
	Args    []string
	Env     []string // appended to the current environment
}

// Run starts the helper, feeds it stdin and returns its stdout. A
// non-zero exit is an error carrying the helper's stderr.
func (r *CommandRunner) Run(ctx context.Context, op string, stdin []byte) ([]byte, error) {
	if r.Command == "" {
		return nil, ErrNoCommand
	}
	args := append(append([]string{}, r.Args...), op)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("helper %s exited with code %d: %s", op, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("helper %s: %w", op, err)
	}
	return stdout.Bytes(), nil
}

// Exec is a ports.Driver backed by a Runner.
type Exec struct {
	runner  Runner
	timeout time.Duration
	log     *logging.Logger
}

// New creates an Exec driver. A zero timeout disables the per-call limit.
func New(runner Runner, timeout time.Duration) *Exec {
	return &Exec{runner: runner, timeout: timeout, log: logging.With("component", "driver")}
}

// FromConfig creates an Exec driver from the driver section.
func FromConfig(cfg config.Driver) (*Exec, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrNoCommand
	}
	runner := &CommandRunner{Command: cfg.Command, Args: cfg.Args}
	return New(runner, time.Duration(cfg.TimeoutSec*float64(time.Second))), nil
}

func (d *Exec) call(ctx context.Context, req Request) (*Response, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", req.Op, err)
	}
	d.log.Debug("driver call", "op", req.Op)

	out, err := d.runner.Run(ctx, req.Op, body)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", req.Op, err)
	}
	switch {
	case resp.Unsupported:
		return nil, fmt.Errorf("%w: %s", ports.ErrNotSupported, req.Op)
	case !resp.OK:
		msg := resp.Error
		if msg == "" {
			msg = "helper reported failure"
		}
		return &resp, errors.New(msg)
	}
	return &resp, nil
}

// input runs an input primitive and wraps failures as input failures.
func (d *Exec) input(ctx context.Context, req Request) error {
	if _, err := d.call(ctx, req); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ports.ErrInputFailure, req.Op, err)
	}
	return nil
}

// Locate asks the helper for a single scan.
func (d *Exec) Locate(ctx context.Context, req ports.LocateRequest) (*ports.Match, error) {
	resp, err := d.call(ctx, Request{
		Op:        OpLocate,
		Templates: req.Templates,
		Threshold: req.Threshold,
		Region:    req.Region,
	})
	if err != nil {
		return nil, err
	}
	if resp.Match == nil || resp.Match.Confidence < req.Threshold {
		return nil, nil
	}
	return resp.Match, nil
}

func (d *Exec) Click(ctx context.Context, p ports.Point, button string, double bool) error {
	return d.input(ctx, Request{Op: OpClick, X: p.X, Y: p.Y, Button: button, Double: double})
}

func (d *Exec) Move(ctx context.Context, p ports.Point, dur time.Duration) error {
	return d.input(ctx, Request{Op: OpMove, X: p.X, Y: p.Y, DurationMS: dur.Milliseconds()})
}

func (d *Exec) Drag(ctx context.Context, from, to ports.Point, dur time.Duration) error {
	return d.input(ctx, Request{Op: OpDrag, X: from.X, Y: from.Y, ToX: to.X, ToY: to.Y, DurationMS: dur.Milliseconds()})
}

func (d *Exec) Type(ctx context.Context, text string) error {
	return d.input(ctx, Request{Op: OpType, Text: text})
}

func (d *Exec) Press(ctx context.Context, keys []string) error {
	return d.input(ctx, Request{Op: OpPress, Keys: keys})
}

func (d *Exec) OpenFileDialog(ctx context.Context, dir bool) error {
	return d.input(ctx, Request{Op: OpDialog, Dir: dir})
}

// FocusWindow reports false, not an error, when the helper cannot find
// or raise the window.
func (d *Exec) FocusWindow(ctx context.Context, name string) (bool, error) {
	resp, err := d.call(ctx, Request{Op: OpFocus, Window: name})
	if err != nil {
		if resp != nil {
			d.log.Debug("focus refused", "window", name, "error", err)
			return false, nil
		}
		return false, err
	}
	return resp.Focused, nil
}

func (d *Exec) Capture(ctx context.Context, path string) error {
	_, err := d.call(ctx, Request{Op: OpCapture, Path: path})
	return err
}

func (d *Exec) Highlight(ctx context.Context, r ports.Region, label string) error {
	_, err := d.call(ctx, Request{Op: OpHighlight, Region: &r, Label: label})
	return err
}

var _ ports.Driver = (*Exec)(nil)
