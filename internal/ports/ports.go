// Package ports defines the capability interfaces the step interpreter
// drives: image location, pointer/keyboard input, window focus, file
// dialogs, screenshots and dry-run overlays. Implementations live in
// driver packages; this package holds only contracts plus the dry-run
// wrapper and a scripted mock.
package ports

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInputFailure marks a primitive input action the driver could not perform.
var ErrInputFailure = errors.New("input failure")

// ErrNotSupported is returned by drivers for capabilities they do not provide.
var ErrNotSupported = errors.New("not supported by driver")

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Offset returns p translated by (dx, dy).
func (p Point) Offset(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Region is a screen rectangle.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RegionFrom converts an [x, y, w, h] slice. It returns nil for an empty slice.
func RegionFrom(r []int) *Region {
	if len(r) != 4 {
		return nil
	}
	return &Region{X: r[0], Y: r[1], W: r[2], H: r[3]}
}

// Match is a successful template location.
type Match struct {
	Point
	Confidence float64 `json:"confidence"`
	Template   string  `json:"template"`
}

// LocateRequest describes a single scan for any of Templates.
type LocateRequest struct {
	Templates []string `json:"templates"`
	Threshold float64  `json:"threshold"`
	Region    *Region  `json:"region,omitempty"`
}

// Locator scans the screen once. A nil match with a nil error means no
// template matched at or above the threshold. Polling and timeouts are
// the caller's concern.
type Locator interface {
	Locate(ctx context.Context, req LocateRequest) (*Match, error)
}

// Input injects pointer and keyboard events.
type Input interface {
	Click(ctx context.Context, p Point, button string, double bool) error
	Move(ctx context.Context, p Point, d time.Duration) error
	Drag(ctx context.Context, from, to Point, d time.Duration) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, keys []string) error
}

// Window focuses the target application.
type Window interface {
	// FocusWindow brings the named window to the foreground and reports
	// whether it is focused afterwards.
	FocusWindow(ctx context.Context, name string) (bool, error)
}

// FileDialog opens the host's file chooser. The interpreter types the
// path and confirms on top of it.
type FileDialog interface {
	OpenFileDialog(ctx context.Context, dir bool) error
}

// Screenshotter captures the screen to a file.
type Screenshotter interface {
	Capture(ctx context.Context, path string) error
}

// Overlay draws indicative markers during dry runs.
type Overlay interface {
	Highlight(ctx context.Context, r Region, label string) error
}

// Driver is a complete capability implementation.
type Driver interface {
	Locator
	Input
	Window
	FileDialog
	Screenshotter
	Overlay
}

// Ports bundles the capabilities handed to the interpreter. Screen and
// Overlay may be nil.
type Ports struct {
	Locator Locator
	Input   Input
	Window  Window
	Dialog  FileDialog
	Screen  Screenshotter
	Overlay Overlay
}

// FromDriver exposes every capability of d.
func FromDriver(d Driver) Ports {
	return Ports{Locator: d, Input: d, Window: d, Dialog: d, Screen: d, Overlay: d}
}

// DryRun returns a copy of p whose input and file-dialog primitives are
// suppressed. Locate, focus and screenshot capabilities are left intact.
func (p Ports) DryRun() (Ports, *DryRunInput) {
	dry := NewDryRunInput(p.Overlay)
	p.Input = dry
	p.Dialog = dry
	return p, dry
}
