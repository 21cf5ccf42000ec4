package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType identifies an entry in the evidence stream.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventStep        EventType = "step"
	EventRecipient   EventType = "recipient"
	EventRunFinished EventType = "run_finished"
)

// Event is one line of the evidence stream.
type Event struct {
	// Seq is assigned by the Report, starting at 1.
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RunInfo is the payload of run_started and run_finished events.
type RunInfo struct {
	RunID      string                  `json:"run_id"`
	Task       string                  `json:"task"`
	DryRun     bool                    `json:"dry_run,omitempty"`
	At         time.Time               `json:"at"`
	ExitReason string                  `json:"exit_reason,omitempty"`
	StopReason string                  `json:"stop_reason,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Counts     map[RecipientStatus]int `json:"counts,omitempty"`
}

// NewEvent creates an Event with data marshalled as its payload.
func NewEvent(seq uint64, t EventType, runID string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return &Event{Seq: seq, Type: t, RunID: runID, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// StepData decodes a step event payload.
func (e *Event) StepData() (*StepOutcome, error) {
	if e.Type != EventStep {
		return nil, fmt.Errorf("expected step event, got %s", e.Type)
	}
	var o StepOutcome
	if err := json.Unmarshal(e.Data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step outcome: %w", err)
	}
	return &o, nil
}

// RecipientData decodes a recipient event payload.
func (e *Event) RecipientData() (*RecipientOutcome, error) {
	if e.Type != EventRecipient {
		return nil, fmt.Errorf("expected recipient event, got %s", e.Type)
	}
	var o RecipientOutcome
	if err := json.Unmarshal(e.Data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient outcome: %w", err)
	}
	return &o, nil
}

// Sink receives evidence events in order.
type Sink interface {
	Emit(ev *Event) error
	Close() error
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit stores ev.
func (m *MemorySink) Emit(ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Close is a no-op.
func (m *MemorySink) Close() error { return nil }

// Events returns a copy of the stored events.
func (m *MemorySink) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns stored events of type t.
func (m *MemorySink) OfType(t EventType) []*Event {
	var out []*Event
	for _, ev := range m.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// FileSink appends events as newline-delimited JSON. Each line is
// flushed and synced before Emit returns.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
}

// NewFileSink opens (creating if needed) the NDJSON file at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Emit appends ev as one JSON line.
func (s *FileSink) Emit(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("events file closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return s.file.Sync()
}

// Close closes the file. It is safe to call Close multiple times.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Path returns the events file path.
func (s *FileSink) Path() string {
	return s.path
}

// ReadEvents reads an NDJSON events file. Malformed lines are skipped.
func ReadEvents(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return events, nil
}
