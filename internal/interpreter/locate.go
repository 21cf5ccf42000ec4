package interpreter

import (
	"context"
	"errors"
	"time"

	"github.com/Craig-0219/potato-autoA/internal/ports"
	"github.com/Craig-0219/potato-autoA/internal/task"
	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// request builds a locate request, filling configured defaults.
func (in *Interpreter) request(a task.Anchor) ports.LocateRequest {
	templates := make([]string, len(a.Templates))
	for i, t := range a.Templates {
		templates[i] = task.ResolvePath(in.opts.BaseDir, t)
	}
	threshold := a.Threshold
	if threshold == 0 {
		threshold = in.opts.Threshold
	}
	region := a.Region
	if len(region) == 0 {
		region = in.opts.SearchRegion
	}
	return ports.LocateRequest{Templates: templates, Threshold: threshold, Region: ports.RegionFrom(region)}
}

// window returns the per-attempt timeout for an anchor.
func (in *Interpreter) window(a task.Anchor) time.Duration {
	if a.TimeoutSec > 0 {
		return seconds(a.TimeoutSec)
	}
	return in.opts.Timeout
}

// locateWithRetries polls for the anchor for up to retries+1 windows,
// each with a fresh timeout. A humanized micro-delay separates attempts.
// A nil match with a nil error means every attempt timed out.
func (in *Interpreter) locateWithRetries(ctx context.Context, a task.Anchor, retries int) (*ports.Match, int, error) {
	req := in.request(a)
	window := in.window(a)

	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := in.clock.Sleep(ctx, in.humanizer.NextDelay(throttle.DelayClick)); err != nil {
				return nil, attempts, err
			}
		}
		attempts++
		m, err := in.pollLocate(ctx, req, window)
		if err != nil || m != nil {
			return m, attempts, err
		}
		in.log.Debug("locate attempt timed out", "templates", a.Templates, "attempt", attempts, "window", window)
	}
	return nil, attempts, nil
}

// pollLocate scans at the poll interval until a match or until window
// elapses. A zero window performs exactly one scan.
func (in *Interpreter) pollLocate(ctx context.Context, req ports.LocateRequest, window time.Duration) (*ports.Match, error) {
	deadline := in.clock.Now().Add(window)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := in.scan(ctx, req, window, deadline)
		if err != nil && !errors.Is(err, errScanTimeout) {
			return nil, err
		}
		if m != nil {
			return m, nil
		}

		remaining := deadline.Sub(in.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}
		if err := in.clock.Sleep(ctx, min(in.opts.PollInterval, remaining)); err != nil {
			return nil, err
		}
	}
}

// errScanTimeout marks a scan cut off by the polling window.
var errScanTimeout = errors.New("scan exceeded the polling window")

// scan runs one Locate bounded by the polling window, so a hung locator
// cannot outlast the step. The look taken at the deadline itself gets one
// poll interval. A zero window leaves the scan bounded only by ctx.
func (in *Interpreter) scan(ctx context.Context, req ports.LocateRequest, window time.Duration, deadline time.Time) (*ports.Match, error) {
	if window <= 0 {
		return in.ports.Locator.Locate(ctx, req)
	}
	budget := max(deadline.Sub(in.clock.Now()), in.opts.PollInterval)
	scanCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	m, err := in.ports.Locator.Locate(scanCtx, req)
	if err != nil && ctx.Err() == nil && scanCtx.Err() != nil {
		return nil, errScanTimeout
	}
	return m, err
}

// waitAbsent scans until no template matches or window elapses, and
// reports whether the anchor disappeared.
func (in *Interpreter) waitAbsent(ctx context.Context, req ports.LocateRequest, window time.Duration) (bool, error) {
	deadline := in.clock.Now().Add(window)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		m, err := in.scan(ctx, req, window, deadline)
		switch {
		case errors.Is(err, errScanTimeout):
			// undecided; keep polling
		case err != nil:
			return false, err
		case m == nil:
			return true, nil
		}

		remaining := deadline.Sub(in.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		if err := in.clock.Sleep(ctx, min(in.opts.PollInterval, remaining)); err != nil {
			return false, err
		}
	}
}
