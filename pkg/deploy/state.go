package deploy

import (
	"fmt"

	"github.com/oneconcern/confmon/pkg/errors"
)

// ErrInvalidTransition is returned when a signal is not accepted in the current state
var ErrInvalidTransition = errors.New("invalid deploy state transition")

// State of a deploy operation
type State string

// Deploy states
const (
	StatePending      State = "pending"
	StateValidating   State = "validating"
	StateTransferring State = "transferring"
	StateVerifying    State = "verifying"
	StateCommitted    State = "committed"
	StateRolledBack   State = "rolled_back"
	StateFailed       State = "failed"
)

// Terminal states end a deploy operation
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateFailed:
		return true
	default:
		return false
	}
}

// Cancellable states accept a cancellation right away. Later states only queue it.
func (s State) Cancellable() bool {
	return s == StatePending || s == StateValidating
}

func (s State) String() string {
	return string(s)
}

// Signal fed to the state machine: the outcome of the previous effect
type Signal uint8

// Signals
const (
	SignalStart Signal = iota
	SignalCancel
	SignalValid
	SignalInvalid
	SignalPushed
	SignalPushFailed
	SignalTimeout
	SignalVerified
	SignalMismatch
	SignalRecorded
	SignalRecordFailed
	SignalLost
)

var signalNames = [...]string{
	SignalStart:        "start",
	SignalCancel:       "cancel",
	SignalValid:        "valid",
	SignalInvalid:      "invalid",
	SignalPushed:       "pushed",
	SignalPushFailed:   "push-failed",
	SignalTimeout:      "timeout",
	SignalVerified:     "verified",
	SignalMismatch:     "mismatch",
	SignalRecorded:     "recorded",
	SignalRecordFailed: "record-failed",
	SignalLost:         "lost",
}

func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("signal(%d)", uint8(s))
}

// Effect requested by a transition, carried out by the coordinator
type Effect uint8

// Effects
const (
	EffectNone Effect = iota
	// EffectValidate resolves the target snapshot into a complete tree
	EffectValidate
	// EffectPush pushes the tree to the server
	EffectPush
	// EffectVerify reads the tree back from the server
	EffectVerify
	// EffectCommit records the new deployed snapshot
	EffectCommit
	// EffectRestore pushes back the previously deployed snapshot
	EffectRestore
)

var effectNames = [...]string{
	EffectNone:     "none",
	EffectValidate: "validate",
	EffectPush:     "push",
	EffectVerify:   "verify",
	EffectCommit:   "commit",
	EffectRestore:  "restore",
}

func (e Effect) String() string {
	if int(e) < len(effectNames) {
		return effectNames[e]
	}
	return fmt.Sprintf("effect(%d)", uint8(e))
}

type edge struct {
	from   State
	signal Signal
}

type step struct {
	to     State
	effect Effect
}

var transitions = map[edge]step{
	{StatePending, SignalStart}:  {StateValidating, EffectValidate},
	{StatePending, SignalCancel}: {StateFailed, EffectNone},

	{StateValidating, SignalValid}:   {StateTransferring, EffectPush},
	{StateValidating, SignalInvalid}: {StateFailed, EffectNone},
	{StateValidating, SignalCancel}:  {StateFailed, EffectNone},

	{StateTransferring, SignalPushed}:     {StateVerifying, EffectVerify},
	{StateTransferring, SignalPushFailed}: {StateFailed, EffectNone},
	{StateTransferring, SignalTimeout}:    {StateRolledBack, EffectRestore},
	{StateTransferring, SignalLost}:       {StateFailed, EffectNone},
	{StateTransferring, SignalCancel}:     {StateTransferring, EffectNone},

	{StateVerifying, SignalVerified}:     {StateVerifying, EffectCommit},
	{StateVerifying, SignalRecorded}:     {StateCommitted, EffectNone},
	{StateVerifying, SignalMismatch}:     {StateRolledBack, EffectRestore},
	{StateVerifying, SignalTimeout}:      {StateRolledBack, EffectRestore},
	{StateVerifying, SignalRecordFailed}: {StateRolledBack, EffectRestore},
	{StateVerifying, SignalCancel}:       {StateVerifying, EffectNone},
}

// Transition computes the next state of a deploy operation and the effect to carry out.
//
// Terminal states accept no signal. A cancellation received once the transfer started is
// acknowledged without a state change.
func Transition(from State, signal Signal) (State, Effect, error) {
	next, ok := transitions[edge{from: from, signal: signal}]
	if !ok {
		return from, EffectNone, ErrInvalidTransition.Wrapf(fmt.Sprintf("%s on %s", signal, from))
	}
	return next.to, next.effect, nil
}
