package state

import (
	"context"
	"sync"
	"time"
)

// Checkpoint is the last confirmed-complete position of a task's run.
// It is persisted after every step so an interrupted run can resume.
type Checkpoint struct {
	Task           string    `json:"task"`
	RunID          string    `json:"run_id"`
	RecipientIndex int       `json:"recipient_index"` // -1 before the recipient loop
	RecipientKey   string    `json:"recipient_key,omitempty"`
	StepIndex      int       `json:"step_index"`     // last completed step of RecipientIndex, -1 for none
	RecipientDone  bool      `json:"recipient_done"` // RecipientIndex reached a final status
	LoopDone       bool      `json:"loop_done,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewCheckpoint returns the position before any recipient has started.
func NewCheckpoint(task, runID string) *Checkpoint {
	return &Checkpoint{Task: task, RunID: runID, RecipientIndex: -1, StepIndex: -1}
}

// Behind reports whether c is strictly earlier than o. Positions inside
// the same unfinished recipient are not ordered, since goto steps move
// the step index in both directions.
func (c Checkpoint) Behind(o Checkpoint) bool {
	switch {
	case c.LoopDone != o.LoopDone:
		return o.LoopDone
	case c.RecipientIndex != o.RecipientIndex:
		return c.RecipientIndex < o.RecipientIndex
	default:
		return !c.RecipientDone && o.RecipientDone
	}
}

// Advance moves the checkpoint to next unless that would move it
// backwards. It reports whether the checkpoint changed.
func (c *Checkpoint) Advance(next Checkpoint) bool {
	if next.Behind(*c) {
		return false
	}
	*c = next
	return true
}

// Covers reports whether the recipient at index has already been
// processed to a final status.
func (c Checkpoint) Covers(index int) bool {
	if c.LoopDone {
		return true
	}
	return index < c.RecipientIndex || (index == c.RecipientIndex && c.RecipientDone)
}

// CheckpointStore persists checkpoints per task.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, task string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	ClearCheckpoint(ctx context.Context, task string) error
}

// MemoryCheckpointStore keeps checkpoints in memory, for tests.
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	cps   map[string]Checkpoint
	saves int
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{cps: make(map[string]Checkpoint)}
}

// LoadCheckpoint returns nil, nil when no checkpoint exists.
func (m *MemoryCheckpointStore) LoadCheckpoint(_ context.Context, task string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[task]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MemoryCheckpointStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.Task] = *cp
	m.saves++
	return nil
}

func (m *MemoryCheckpointStore) ClearCheckpoint(_ context.Context, task string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, task)
	return nil
}

// Saves returns how many times SaveCheckpoint was called.
func (m *MemoryCheckpointStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
