// Package status exports errors produced by the core engine packages.
//
// Errors are sentinels matched with errors.Is. Terminal errors reported to an operator
// are decorated with a Detail, which tells which server, snapshot and deploy state
// the failure relates to.
package status

import (
	"strings"

	"github.com/oneconcern/confmon/pkg/errors"
)

var (
	// ErrNotFound indicates a referenced entity is absent
	ErrNotFound = errors.New("not found")

	// ErrCorrupted indicates an integrity check failure on read
	ErrCorrupted = errors.New("corrupted content")

	// ErrParentMismatch indicates an optimistic concurrency conflict when appending to a history
	ErrParentMismatch = errors.New("parent is not the current head")

	// ErrChainBroken indicates that a pruned or missing ancestor blocks materialization
	ErrChainBroken = errors.New("snapshot chain broken")

	// ErrUnreachable indicates that a server could not be read
	ErrUnreachable = errors.New("server unreachable")

	// ErrTransport indicates that the deploy transport failed
	ErrTransport = errors.New("transport error")

	// ErrInUse indicates a delete blocked by a live reference
	ErrInUse = errors.New("in use")

	// ErrTimeout indicates that a collaborator call exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrOutcomeUnknown indicates a call to a server still running after its timeout and grace period.
	// What the server ends up holding is unknown.
	ErrOutcomeUnknown = errors.New("outcome unknown")

	// ErrCancelled indicates that a deploy was cancelled before touching the server
	ErrCancelled = errors.New("cancelled")

	// ErrVerifyMismatch indicates that the deployed tree differs from the target snapshot
	ErrVerifyMismatch = errors.New("deployed tree does not match snapshot")

	// ErrNotInHistory indicates a snapshot which does not belong to the history of a server
	ErrNotInHistory = errors.New("snapshot not in server history")

	// ErrInvalidSnapshot indicates a malformed snapshot request
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrUnknownServer indicates a server that has not been registered as a deploy target
	ErrUnknownServer = errors.New("unknown server")
)

// Detail decorates an error with the context needed to diagnose it.
type Detail struct {
	Err      error
	Server   string
	Snapshot string
	State    string
}

// WithDetail decorates an error with a server and snapshot context.
//
// A nil error yields nil.
func WithDetail(err error, server, snapshot string) error {
	if err == nil {
		return nil
	}
	return &Detail{Err: err, Server: server, Snapshot: snapshot}
}

// WithState decorates an error with a server, snapshot and deploy state context.
func WithState(err error, server, snapshot, state string) error {
	if err == nil {
		return nil
	}
	return &Detail{Err: err, Server: server, Snapshot: snapshot, State: state}
}

func (d *Detail) Error() string {
	var b strings.Builder
	b.WriteString(d.Err.Error())
	sep := " ["
	for _, kv := range [][2]string{{"server", d.Server}, {"snapshot", d.Snapshot}, {"state", d.State}} {
		if kv[1] == "" {
			continue
		}
		b.WriteString(sep)
		b.WriteString(kv[0])
		b.WriteString("=")
		b.WriteString(kv[1])
		sep = " "
	}
	if sep == " " {
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap the decorated error
func (d *Detail) Unwrap() error {
	return d.Err
}

// IsRetriable tells if an error may be retried automatically.
//
// Corrupted content and broken chains denote durable store damage and are never retried.
func IsRetriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCorrupted), errors.Is(err, ErrChainBroken), errors.Is(err, ErrInvalidSnapshot),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}
