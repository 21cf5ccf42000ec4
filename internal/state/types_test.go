package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_Advance(t *testing.T) {
	t.Parallel()

	at := func(r, s int, done bool) Checkpoint {
		return Checkpoint{Task: "t", RecipientIndex: r, StepIndex: s, RecipientDone: done}
	}

	tests := []struct {
		name    string
		from    Checkpoint
		to      Checkpoint
		changed bool
	}{
		{"next step same recipient", at(1, 2, false), at(1, 3, false), true},
		{"goto backwards inside recipient", at(1, 3, false), at(1, 0, false), true},
		{"recipient finished", at(1, 3, false), at(1, 3, true), true},
		{"next recipient", at(1, 3, true), at(2, 0, false), true},
		{"earlier recipient refused", at(2, 0, false), at(1, 4, true), false},
		{"reopen finished recipient refused", at(1, 3, true), at(1, 4, false), false},
		{"from fresh", *NewCheckpoint("t", "r"), at(0, 0, false), true},
		{"after loop done refused", Checkpoint{Task: "t", RecipientIndex: 4, LoopDone: true}, at(5, 0, false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cp := tt.from
			assert.Equal(t, tt.changed, cp.Advance(tt.to))
			if tt.changed {
				assert.Equal(t, tt.to, cp)
			} else {
				assert.Equal(t, tt.from, cp)
			}
		})
	}
}

func TestCheckpoint_Covers(t *testing.T) {
	t.Parallel()

	cp := Checkpoint{RecipientIndex: 2, StepIndex: 1}
	assert.True(t, cp.Covers(0))
	assert.True(t, cp.Covers(1))
	assert.False(t, cp.Covers(2))
	assert.False(t, cp.Covers(3))

	cp.RecipientDone = true
	assert.True(t, cp.Covers(2))
	assert.False(t, cp.Covers(3))

	assert.False(t, NewCheckpoint("t", "r").Covers(0))
	assert.True(t, Checkpoint{LoopDone: true}.Covers(99))
}

func TestMemoryCheckpointStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	got, err := store.LoadCheckpoint(ctx, "greet")
	require.NoError(t, err)
	assert.Nil(t, got)

	cp := &Checkpoint{Task: "greet", RecipientIndex: 1, StepIndex: 0}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))
	cp.StepIndex = 9 // stored copy is independent

	got, err = store.LoadCheckpoint(ctx, "greet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.StepIndex)
	assert.Equal(t, 1, store.Saves())

	require.NoError(t, store.ClearCheckpoint(ctx, "greet"))
	got, err = store.LoadCheckpoint(ctx, "greet")
	require.NoError(t, err)
	assert.Nil(t, got)
}
