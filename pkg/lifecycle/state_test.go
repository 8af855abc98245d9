package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []State{
		StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed,
	} {
		assert.True(t, s.Valid(), "state %q", s)
		assert.Equal(t, string(s), s.String())
	}
	assert.False(t, State("").Valid())
	assert.False(t, State("paused").Valid())
}

func TestState_IsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    State
		terminal bool
	}{
		{StateUnknown, false},
		{StateStarting, false},
		{StateRunning, false},
		{StateStopping, false},
		{StateStopped, true},
		{StateFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnknown, StateStarting, true},
		{StateUnknown, StateFailed, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateFailed, true},
		{StateStarting, StateStopping, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateFailed, true},
		{StateStopping, StateStopped, true},
		{StateStopping, StateFailed, true},
		{StateStopped, StateStarting, true},
		{StateFailed, StateStarting, true},

		{StateUnknown, StateRunning, false},
		{StateUnknown, StateStopped, false},
		{StateRunning, StateStarting, false},
		{StateStopping, StateRunning, false},
		{StateStopped, StateRunning, false},
		{StateFailed, StateRunning, false},
		{StateRunning, StateRunning, false},
		{State("nonexistent"), StateStarting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}
