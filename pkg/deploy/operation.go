package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/oneconcern/confmon/pkg/core/status"
)

// Kind of deploy operation
type Kind string

// Operation kinds
const (
	KindDeploy   Kind = "deploy"
	KindRollback Kind = "rollback"
)

// Request to deploy a snapshot onto a server
type Request struct {
	ServerID string
	Snapshot string
	Author   string
}

// Report describes the outcome of a deploy operation
type Report struct {
	ID              string    `json:"id" yaml:"id"`
	Kind            Kind      `json:"kind" yaml:"kind"`
	ServerID        string    `json:"server" yaml:"server"`
	Snapshot        string    `json:"snapshot" yaml:"snapshot"`
	Previous        string    `json:"previous,omitempty" yaml:"previous,omitempty"`
	Author          string    `json:"author,omitempty" yaml:"author,omitempty"`
	State           State     `json:"state" yaml:"state"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
	RestoreError    string    `json:"restore_error,omitempty" yaml:"restore_error,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty" yaml:"cancel_requested,omitempty"`
	Started         time.Time `json:"started" yaml:"started"`
	Finished        time.Time `json:"finished,omitempty" yaml:"finished,omitempty"`
}

// Operation is a handle on a running deploy
type Operation struct {
	ID       string
	Kind     Kind
	ServerID string
	Snapshot string
	Author   string
	Started  time.Time

	mu              sync.Mutex
	state           State
	previous        string
	err             error
	restoreErr      error
	cancelRequested bool
	abort           context.CancelFunc
	finished        time.Time
	done            chan struct{}
}

// State of the operation
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Err reports why the operation did not commit
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// Done is closed when the operation reaches a terminal state
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait for the operation to complete, and report its error
func (op *Operation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel the operation.
//
// Cancelling takes effect immediately only while the operation is pending or validating,
// and Cancel then returns true. Once the transfer started the request is queued: the
// operation runs to a terminal state and the report records the request.
func (op *Operation) Cancel() bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	op.cancelRequested = true
	if !op.state.Cancellable() {
		return false
	}
	if op.abort != nil {
		op.abort()
	}
	return true
}

// Report on the operation
func (op *Operation) Report() Report {
	op.mu.Lock()
	defer op.mu.Unlock()

	r := Report{
		ID:              op.ID,
		Kind:            op.Kind,
		ServerID:        op.ServerID,
		Snapshot:        op.Snapshot,
		Previous:        op.previous,
		Author:          op.Author,
		State:           op.state,
		CancelRequested: op.cancelRequested,
		Started:         op.Started,
		Finished:        op.finished,
	}
	if op.err != nil {
		r.Error = op.err.Error()
	}
	if op.restoreErr != nil {
		r.RestoreError = op.restoreErr.Error()
	}
	return r
}

// advance feeds a signal to the state machine.
//
// A pending cancellation preempts any signal while the state still accepts it.
func (op *Operation) advance(signal Signal) (from, to State, effect Effect, err error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	from = op.state
	if op.cancelRequested && from.Cancellable() {
		signal = SignalCancel
		op.err = status.WithState(status.ErrCancelled, op.ServerID, op.Snapshot, string(from))
	}

	to, effect, err = Transition(from, signal)
	if err != nil {
		return from, from, EffectNone, err
	}
	op.state = to
	return from, to, effect, nil
}

func (op *Operation) fail(err error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.err == nil {
		op.err = status.WithState(err, op.ServerID, op.Snapshot, string(op.state))
	}
}

func (op *Operation) setPrevious(previous string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.previous = previous
}

func (op *Operation) getPrevious() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.previous
}

func (op *Operation) setRestoreErr(err error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.restoreErr = err
}

func (op *Operation) finish(at time.Time) {
	op.mu.Lock()
	op.finished = at
	op.abort = nil
	op.mu.Unlock()
	close(op.done)
}
