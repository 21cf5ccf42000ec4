// Package throttle paces automation: randomized per-action delays and the
// per-run and per-day recipient caps.
package throttle

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Craig-0219/potato-autoA/internal/config"
)

// DelayKind selects an independent jitter range.
type DelayKind int

const (
	// DelayClick is the pause around pointer actions and between locate attempts.
	DelayClick DelayKind = iota
	// DelayType is the pause around keyboard actions.
	DelayType
	// DelayJitter is the generic random jitter added after each step.
	DelayJitter
	// DelayInterRecipient is the pause between two recipients.
	DelayInterRecipient
)

func (k DelayKind) String() string {
	switch k {
	case DelayClick:
		return "click"
	case DelayType:
		return "type"
	case DelayJitter:
		return "jitter"
	case DelayInterRecipient:
		return "inter_recipient"
	default:
		return "unknown"
	}
}

// Range is an inclusive duration range.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// MillisRange converts a [min, max] millisecond pair.
func MillisRange(r []int) Range {
	if len(r) != 2 {
		return Range{}
	}
	return Range{Min: time.Duration(r[0]) * time.Millisecond, Max: time.Duration(r[1]) * time.Millisecond}
}

// SecondsRange converts a [min, max] seconds pair.
func SecondsRange(r []float64) Range {
	if len(r) != 2 {
		return Range{}
	}
	return Range{Min: time.Duration(r[0] * float64(time.Second)), Max: time.Duration(r[1] * float64(time.Second))}
}

// Sample draws uniformly from [Min, Max] with nanosecond resolution.
func (r Range) Sample(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int64N(int64(r.Max-r.Min)+1))
}

// Humanizer samples delays from per-kind ranges. It is safe for concurrent use.
type Humanizer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges map[DelayKind]Range
}

// NewHumanizer creates a Humanizer. A zero seed seeds from the wall clock.
func NewHumanizer(ranges map[DelayKind]Range, seed int64) *Humanizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	copied := make(map[DelayKind]Range, len(ranges))
	for k, r := range ranges {
		copied[k] = r
	}
	return &Humanizer{
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		ranges: copied,
	}
}

// HumanizerFromConfig builds the ranges from delays and throttle settings.
// A non-empty interval overrides throttle.min_interval_sec.
func HumanizerFromConfig(cfg *config.Config, interval []float64) *Humanizer {
	if len(interval) != 2 {
		interval = cfg.Throttle.MinIntervalSec
	}
	return NewHumanizer(map[DelayKind]Range{
		DelayClick:          MillisRange(cfg.Delays.ClickMS),
		DelayType:           MillisRange(cfg.Delays.TypeMS),
		DelayJitter:         MillisRange(cfg.Delays.RandomJitterMS),
		DelayInterRecipient: SecondsRange(interval),
	}, cfg.Run.Seed)
}

// NextDelay samples the range configured for kind. Unconfigured kinds yield zero.
func (h *Humanizer) NextDelay(kind DelayKind) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ranges[kind].Sample(h.rng)
}

// Uniform samples an ad-hoc range, such as a wait step's [min, max].
func (h *Humanizer) Uniform(r Range) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return r.Sample(h.rng)
}
