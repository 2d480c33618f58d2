package deploy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	for _, toPin := range []struct {
		name   string
		from   State
		signal Signal
		to     State
		effect Effect
	}{
		{name: "start", from: StatePending, signal: SignalStart, to: StateValidating, effect: EffectValidate},
		{name: "cancel pending", from: StatePending, signal: SignalCancel, to: StateFailed, effect: EffectNone},
		{name: "cancel validating", from: StateValidating, signal: SignalCancel, to: StateFailed, effect: EffectNone},
		{name: "valid", from: StateValidating, signal: SignalValid, to: StateTransferring, effect: EffectPush},
		{name: "invalid", from: StateValidating, signal: SignalInvalid, to: StateFailed, effect: EffectNone},
		{name: "pushed", from: StateTransferring, signal: SignalPushed, to: StateVerifying, effect: EffectVerify},
		{name: "push failed", from: StateTransferring, signal: SignalPushFailed, to: StateFailed, effect: EffectNone},
		{name: "push timeout", from: StateTransferring, signal: SignalTimeout, to: StateRolledBack, effect: EffectRestore},
		{name: "push lost", from: StateTransferring, signal: SignalLost, to: StateFailed, effect: EffectNone},
		{name: "cancel transferring is queued", from: StateTransferring, signal: SignalCancel, to: StateTransferring, effect: EffectNone},
		{name: "verified", from: StateVerifying, signal: SignalVerified, to: StateVerifying, effect: EffectCommit},
		{name: "recorded", from: StateVerifying, signal: SignalRecorded, to: StateCommitted, effect: EffectNone},
		{name: "mismatch", from: StateVerifying, signal: SignalMismatch, to: StateRolledBack, effect: EffectRestore},
		{name: "verify timeout", from: StateVerifying, signal: SignalTimeout, to: StateRolledBack, effect: EffectRestore},
		{name: "record failed", from: StateVerifying, signal: SignalRecordFailed, to: StateRolledBack, effect: EffectRestore},
		{name: "cancel verifying is queued", from: StateVerifying, signal: SignalCancel, to: StateVerifying, effect: EffectNone},
	} {
		fixture := toPin
		t.Run(fixture.name, func(t *testing.T) {
			to, effect, err := Transition(fixture.from, fixture.signal)
			require.NoError(t, err)
			assert.Equal(t, fixture.to, to)
			assert.Equal(t, fixture.effect, effect)
		})
	}
}

func TestTransitionRefused(t *testing.T) {
	t.Run("should refuse any signal in a terminal state", func(t *testing.T) {
		for _, terminal := range []State{StateCommitted, StateRolledBack, StateFailed} {
			require.True(t, terminal.Terminal())
			for signal := SignalStart; signal <= SignalLost; signal++ {
				to, effect, err := Transition(terminal, signal)
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, terminal, to)
				assert.Equal(t, EffectNone, effect)
			}
		}
	})

	t.Run("should not skip states", func(t *testing.T) {
		_, _, err := Transition(StatePending, SignalPushed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pushed on pending")

		_, _, err = Transition(StateValidating, SignalRecorded)
		require.Error(t, err)
	})

	t.Run("should only accept cancellation early", func(t *testing.T) {
		assert.True(t, StatePending.Cancellable())
		assert.True(t, StateValidating.Cancellable())
		assert.False(t, StateTransferring.Cancellable())
		assert.False(t, StateVerifying.Cancellable())
		assert.False(t, StateCommitted.Cancellable())
	})

	t.Run("should name signals and effects", func(t *testing.T) {
		assert.Equal(t, "push-failed", SignalPushFailed.String())
		assert.Equal(t, "restore", EffectRestore.String())
		assert.Equal(t, "signal(99)", Signal(99).String())
	})
}
