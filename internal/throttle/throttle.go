package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Craig-0219/potato-autoA/internal/clock"
)

// DefaultCounterKey is the daily counter key when none is configured.
const DefaultCounterKey = "recipients"

// CounterStore persists named daily counters across runs.
type CounterStore interface {
	// Get returns the current count for key.
	Get(ctx context.Context, key string) (int, error)
	// Increment adds one to key and returns the new count.
	Increment(ctx context.Context, key string) (int, error)
	// ResetIfNewDay zeroes key when its recorded day differs from now's calendar day.
	ResetIfNewDay(ctx context.Context, key string, now time.Time) error
}

// Config holds the recipient caps. Zero disables a cap.
type Config struct {
	MaxPerRun  int
	DailyCap   int
	CounterKey string
}

// Stop reasons reported by AllowNextRecipient.
const (
	ReasonRunCap   = "max_recipients_per_run reached"
	ReasonDailyCap = "daily_cap reached"
)

// Decision is the result of a cap check.
type Decision struct {
	Allowed  bool
	Reason   string // set when not allowed
	RunCount int
	Today    int
}

// Throttle enforces the per-run and daily recipient caps. The per-run
// counter lives in memory and starts at zero for each Throttle; the
// daily counter lives in the injected store.
type Throttle struct {
	mu       sync.Mutex
	config   Config
	store    CounterStore
	clock    clock.Clock
	runCount int
}

// New creates a Throttle.
func New(cfg Config, store CounterStore, clk clock.Clock) *Throttle {
	if cfg.CounterKey == "" {
		cfg.CounterKey = DefaultCounterKey
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Throttle{config: cfg, store: store, clock: clk}
}

// AllowNextRecipient reports whether another recipient may start. It
// must be consulted before a recipient's step sequence begins.
func (t *Throttle) AllowNextRecipient(ctx context.Context) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.ResetIfNewDay(ctx, t.config.CounterKey, t.clock.Now()); err != nil {
		return Decision{}, fmt.Errorf("failed to roll daily counter: %w", err)
	}
	today, err := t.store.Get(ctx, t.config.CounterKey)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read daily counter: %w", err)
	}

	d := Decision{Allowed: true, RunCount: t.runCount, Today: today}
	switch {
	case t.config.MaxPerRun > 0 && t.runCount >= t.config.MaxPerRun:
		d.Allowed, d.Reason = false, ReasonRunCap
	case t.config.DailyCap > 0 && today >= t.config.DailyCap:
		d.Allowed, d.Reason = false, ReasonDailyCap
	}
	return d, nil
}

// RecordStart counts a recipient whose step sequence has begun.
func (t *Throttle) RecordStart(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runCount++
	if _, err := t.store.Increment(ctx, t.config.CounterKey); err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}
	return nil
}

// RunCount returns the number of recipients started by this Throttle.
func (t *Throttle) RunCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runCount
}

// Today returns the daily counter after rolling it over if needed.
func (t *Throttle) Today(ctx context.Context) (int, error) {
	if err := t.store.ResetIfNewDay(ctx, t.config.CounterKey, t.clock.Now()); err != nil {
		return 0, err
	}
	return t.store.Get(ctx, t.config.CounterKey)
}

// Day formats the calendar day of t in its location.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

// MemoryCounterStore is an in-memory CounterStore.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int
	days   map[string]string
}

// NewMemoryCounterStore creates an empty MemoryCounterStore.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[string]int), days: make(map[string]string)}
}

// Get returns the count for key.
func (s *MemoryCounterStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

// Increment adds one to key.
func (s *MemoryCounterStore) Increment(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

// ResetIfNewDay zeroes key on a calendar day change.
func (s *MemoryCounterStore) ResetIfNewDay(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := Day(now)
	if s.days[key] != day {
		s.days[key] = day
		s.counts[key] = 0
	}
	return nil
}

// Set seeds a counter for a given day.
func (s *MemoryCounterStore) Set(key string, day time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[key] = Day(day)
	s.counts[key] = count
}

var _ CounterStore = (*MemoryCounterStore)(nil)
