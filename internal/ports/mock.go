package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockDriver implements Driver for tests. Locate results are scripted per
// template and every call is recorded. It is exported for use by tests
// in other packages.
type MockDriver struct {
	mu sync.Mutex

	// Scripted locate results per template. Each Locate call consumes the
	// head of the queue; the last entry is sticky.
	matches map[string][]*Match

	locateFunc func(ctx context.Context, req LocateRequest) (*Match, error)

	focus    map[string]bool
	focusErr error
	inputErr error

	// Tracking
	locateCalls []LocateRequest
	calls       []MockCall
}

// MockCall records one non-locate primitive call.
type MockCall struct {
	Op     string
	Detail string
}

func (c MockCall) String() string {
	if c.Detail == "" {
		return c.Op
	}
	return c.Op + " " + c.Detail
}

// NewMockDriver creates a MockDriver where no template matches and every
// window can be focused.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		matches: make(map[string][]*Match),
		focus:   make(map[string]bool),
	}
}

// SetMatch makes template match at p with full confidence on every scan.
func (m *MockDriver) SetMatch(template string, p Point) {
	m.SetMatchSequence(template, &Match{Point: p, Confidence: 1})
}

// SetMatchSequence scripts successive scan results for template. A nil
// entry is a miss.
func (m *MockDriver) SetMatchSequence(template string, seq ...*Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[template] = seq
}

// ClearMatch makes template never match.
func (m *MockDriver) ClearMatch(template string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.matches, template)
}

// SetLocateFunc overrides scripted matching.
func (m *MockDriver) SetLocateFunc(fn func(ctx context.Context, req LocateRequest) (*Match, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locateFunc = fn
}

// SetFocus configures the FocusWindow result for a window name.
func (m *MockDriver) SetFocus(name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus[name] = ok
}

// SetFocusError makes FocusWindow fail.
func (m *MockDriver) SetFocusError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusErr = err
}

// SetInputError makes every input primitive fail with err.
func (m *MockDriver) SetInputError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputErr = err
}

// Locate returns the first scripted match, in template order, whose
// confidence meets the threshold.
func (m *MockDriver) Locate(ctx context.Context, req LocateRequest) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.locateCalls = append(m.locateCalls, req)
	fn := m.locateFunc
	if fn != nil {
		m.mu.Unlock()
		return fn(ctx, req)
	}
	defer m.mu.Unlock()

	var found *Match
	for _, tpl := range req.Templates {
		seq := m.matches[tpl]
		if len(seq) == 0 {
			continue
		}
		head := seq[0]
		if len(seq) > 1 {
			m.matches[tpl] = seq[1:]
		}
		if found == nil && head != nil && head.Confidence >= req.Threshold {
			match := *head
			match.Template = tpl
			found = &match
		}
	}
	return found, nil
}

func (m *MockDriver) input(op, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: op, Detail: detail})
	if m.inputErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrInputFailure, op, m.inputErr)
	}
	return nil
}

// Click records the click.
func (m *MockDriver) Click(_ context.Context, p Point, button string, double bool) error {
	op := "click"
	if double {
		op = "double_click"
	}
	return m.input(op, p.String())
}

// Move records the move.
func (m *MockDriver) Move(_ context.Context, p Point, _ time.Duration) error {
	return m.input("move", p.String())
}

// Drag records the drag.
func (m *MockDriver) Drag(_ context.Context, from, to Point, _ time.Duration) error {
	return m.input("drag", from.String()+"->"+to.String())
}

// Type records the typed text.
func (m *MockDriver) Type(_ context.Context, text string) error {
	return m.input("type", text)
}

// Press records the key combination.
func (m *MockDriver) Press(_ context.Context, keys []string) error {
	return m.input("press", strings.Join(keys, "+"))
}

// OpenFileDialog records the dialog request.
func (m *MockDriver) OpenFileDialog(_ context.Context, dir bool) error {
	if dir {
		return m.input("open_dialog", "dir")
	}
	return m.input("open_dialog", "file")
}

// FocusWindow returns the configured focus result, true by default.
func (m *MockDriver) FocusWindow(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: "focus", Detail: name})
	if m.focusErr != nil {
		return false, m.focusErr
	}
	if ok, set := m.focus[name]; set {
		return ok, nil
	}
	return true, nil
}

// Capture records the screenshot path without writing a file.
func (m *MockDriver) Capture(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: "capture", Detail: path})
	return nil
}

// Highlight records the overlay.
func (m *MockDriver) Highlight(_ context.Context, r Region, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: "highlight", Detail: label})
	return nil
}

// GetLocateCalls returns a copy of the recorded Locate requests.
func (m *MockDriver) GetLocateCalls() []LocateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]LocateRequest, len(m.locateCalls))
	copy(result, m.locateCalls)
	return result
}

// GetCalls returns a copy of the recorded non-locate calls.
func (m *MockDriver) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallsOf returns the details of recorded calls with the given op.
func (m *MockDriver) CallsOf(op string) []string {
	var out []string
	for _, c := range m.GetCalls() {
		if c.Op == op {
			out = append(out, c.Detail)
		}
	}
	return out
}

// InputCalls returns the recorded calls that inject input.
func (m *MockDriver) InputCalls() []MockCall {
	var out []MockCall
	for _, c := range m.GetCalls() {
		switch c.Op {
		case "click", "double_click", "move", "drag", "type", "press", "open_dialog":
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls and scripted state.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = make(map[string][]*Match)
	m.focus = make(map[string]bool)
	m.locateFunc = nil
	m.focusErr = nil
	m.inputErr = nil
	m.locateCalls = nil
	m.calls = nil
}

// Verify MockDriver implements Driver interface.
var _ Driver = (*MockDriver)(nil)
