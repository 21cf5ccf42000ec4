package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// markerSize is the side of the square drawn around a suppressed click.
const markerSize = 24

// DryRunInput stands in for Input and FileDialog during a dry run. It
// never injects events; pointer actions are drawn through the overlay
// when one is available, and every suppressed action is recorded.
type DryRunInput struct {
	overlay Overlay

	mu         sync.Mutex
	suppressed []string
}

// NewDryRunInput creates a DryRunInput drawing on overlay, which may be nil.
func NewDryRunInput(overlay Overlay) *DryRunInput {
	return &DryRunInput{overlay: overlay}
}

// Suppressed returns a copy of the recorded actions.
func (d *DryRunInput) Suppressed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.suppressed))
	copy(out, d.suppressed)
	return out
}

func (d *DryRunInput) record(action string) {
	d.mu.Lock()
	d.suppressed = append(d.suppressed, action)
	d.mu.Unlock()
}

func (d *DryRunInput) mark(ctx context.Context, p Point, label string) error {
	d.record(label)
	if d.overlay == nil {
		return nil
	}
	r := Region{X: p.X - markerSize/2, Y: p.Y - markerSize/2, W: markerSize, H: markerSize}
	if err := d.overlay.Highlight(ctx, r, label); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	return nil
}

// Click draws the click target.
func (d *DryRunInput) Click(ctx context.Context, p Point, button string, double bool) error {
	label := "click " + p.String()
	if double {
		label = "double-" + label
	}
	return d.mark(ctx, p, label)
}

// Move draws the destination.
func (d *DryRunInput) Move(ctx context.Context, p Point, _ time.Duration) error {
	return d.mark(ctx, p, "move "+p.String())
}

// Drag draws both endpoints.
func (d *DryRunInput) Drag(ctx context.Context, from, to Point, _ time.Duration) error {
	if err := d.mark(ctx, from, "drag from "+from.String()); err != nil {
		return err
	}
	return d.mark(ctx, to, "drag to "+to.String())
}

// Type records the text without typing it.
func (d *DryRunInput) Type(_ context.Context, text string) error {
	d.record(fmt.Sprintf("type %q", text))
	return nil
}

// Press records the key combination.
func (d *DryRunInput) Press(_ context.Context, keys []string) error {
	d.record("press " + strings.Join(keys, "+"))
	return nil
}

// OpenFileDialog records the dialog request.
func (d *DryRunInput) OpenFileDialog(_ context.Context, dir bool) error {
	if dir {
		d.record("open directory dialog")
	} else {
		d.record("open file dialog")
	}
	return nil
}

var (
	_ Input      = (*DryRunInput)(nil)
	_ FileDialog = (*DryRunInput)(nil)
)
