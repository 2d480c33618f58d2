// Package deploy materializes snapshots back onto live servers.
//
// Each deploy runs a state machine:
//
//	pending -> validating -> transferring -> verifying -> committed
//
// with failures ending in either the failed state, when the live server was left untouched,
// or the rolled back state, when the previously deployed snapshot had to be pushed back.
//
// A rollback is a deploy whose destination is an earlier snapshot of the history of the server.
//
// The deployed snapshot recorded for a server only changes when an operation commits.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/keylock"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxReportedPaths caps the number of mismatching paths quoted in a verification error
const maxReportedPaths = 5

// Index is the part of the snapshot index a deploy coordinator needs
type Index interface {
	GetTarget(context.Context, string) (model.ServerTarget, error)
	Head(context.Context, string) (model.Snapshot, bool)
	InHistory(string, string) bool
	Materialize(context.Context, string) (model.Tree, error)
	CommitDeploy(context.Context, string, string, time.Time) (model.ServerTarget, error)
}

var _ Index = &core.Index{}

// Coordinator runs deploy operations
type Coordinator struct {
	index     Index
	transport model.Transport
	reader    model.TreeReader
	locks     *keylock.Table
	clock     model.Clock
	timeout   time.Duration
	grace     time.Duration
	keep      int

	events events.Publisher
	m      *metrics.M
	l      *zap.Logger
	tr     trace.Tracer

	mu  sync.Mutex
	ops map[string][]*Operation
}

// New deploy coordinator, pushing trees through some transport
func New(index Index, transport model.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		index:     index,
		transport: transport,
		locks:     keylock.New(),
		clock:     model.SystemClock{},
		timeout:   DefaultTimeout,
		grace:     DefaultGracePeriod,
		keep:      DefaultKeepOperations,
		events:    events.Nop{},
		l:         zap.NewNop(),
		tr:        otel.Tracer("github.com/oneconcern/confmon/pkg/deploy"),
		ops:       make(map[string][]*Operation),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Deploy a snapshot onto a server and wait for the outcome
func (c *Coordinator) Deploy(ctx context.Context, req Request) (Report, error) {
	return c.runSync(ctx, KindDeploy, req)
}

// Rollback a server to an earlier snapshot of its history and wait for the outcome
func (c *Coordinator) Rollback(ctx context.Context, req Request) (Report, error) {
	return c.runSync(ctx, KindRollback, req)
}

func (c *Coordinator) runSync(ctx context.Context, kind Kind, req Request) (Report, error) {
	op, err := c.Start(ctx, kind, req)
	if err != nil {
		return Report{}, err
	}
	<-op.Done()
	return op.Report(), op.Err()
}

// Start a deploy operation in the background.
//
// Cancelling ctx cancels the operation, under the same conditions as Operation.Cancel.
func (c *Coordinator) Start(ctx context.Context, kind Kind, req Request) (*Operation, error) {
	if err := core.ValidateServerID(req.ServerID); err != nil {
		return nil, err
	}
	if req.Snapshot == "" {
		return nil, status.WithDetail(status.ErrInvalidSnapshot.Wrapf("a snapshot to deploy is required"), req.ServerID, "")
	}
	if kind != KindDeploy && kind != KindRollback {
		return nil, fmt.Errorf("unsupported deploy kind %q", kind)
	}

	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	op := &Operation{
		ID:       ksuid.New().String(),
		Kind:     kind,
		ServerID: req.ServerID,
		Snapshot: req.Snapshot,
		Author:   req.Author,
		Started:  c.clock.Now(),
		state:    StatePending,
		abort:    abort,
		done:     make(chan struct{}),
	}
	c.remember(op)
	c.publish(runCtx, op, StatePending)

	stop := context.AfterFunc(ctx, func() { op.Cancel() })
	go func() {
		defer abort()
		defer stop()
		c.run(runCtx, op)
	}()
	return op, nil
}

// run drives the state machine of an operation to a terminal state
func (c *Coordinator) run(ctx context.Context, op *Operation) {
	start := time.Now()
	lg := c.l.With(
		zap.String("operation", op.ID),
		zap.String("server", op.ServerID),
		zap.String("snapshot", op.Snapshot),
		zap.String("kind", string(op.Kind)),
	)

	ctx, span := c.tr.Start(ctx, "deploy."+string(op.Kind), trace.WithAttributes(
		attribute.String("operation", op.ID),
		attribute.String("server", op.ServerID),
		attribute.String("snapshot", op.Snapshot),
	))

	x := &execution{op: op, l: lg}
	signal := SignalStart
	unlock, err := c.locks.Lock(ctx, op.ServerID)
	if err != nil {
		signal = SignalCancel
		op.fail(status.ErrCancelled.Wrap(err))
	}

	for {
		from, to, effect, err := op.advance(signal)
		if err != nil {
			lg.Error("deploy state machine stalled", zap.String("state", string(from)), zap.Error(err))
			op.fail(err)
			break
		}
		if to != from {
			lg.Info("deploy state", zap.String("state", string(to)), zap.Stringer("signal", signal))
			c.publish(ctx, op, to)
		}
		if effect == EffectNone {
			break
		}
		signal = c.execute(ctx, x, effect)
		if to.Terminal() {
			break
		}
	}

	final := op.State()
	if err := op.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lg.Warn("deploy did not commit", zap.String("state", string(final)), zap.Error(err))
	} else {
		lg.Info("deploy committed")
	}
	span.SetAttributes(attribute.String("state", string(final)))
	span.End()

	c.m.Deploy(string(op.Kind), string(final), start)
	c.unlockWhenSettled(x, unlock)
	op.finish(c.clock.Now())
}

// unlockWhenSettled releases the server lock once no abandoned call may still write to the server
func (c *Coordinator) unlockWhenSettled(x *execution, unlock func()) {
	if unlock == nil {
		return
	}
	if len(x.inFlight) == 0 {
		unlock()
		return
	}

	x.l.Warn("server calls still running after their timeout, holding the server lock until they return",
		zap.Int("calls", len(x.inFlight)))
	pending := x.inFlight
	go func() {
		defer unlock()
		for _, done := range pending {
			err := <-done
			x.l.Info("abandoned server call returned", zap.Error(err))
		}
	}()
}

// execution holds the working state of a running operation
type execution struct {
	op   *Operation
	tree model.Tree
	l    *zap.Logger

	// calls which outlived their timeout and grace period
	inFlight []<-chan error
}

func (c *Coordinator) execute(ctx context.Context, x *execution, effect Effect) Signal {
	switch effect {
	case EffectValidate:
		return c.validate(ctx, x)
	case EffectPush:
		return c.push(ctx, x)
	case EffectVerify:
		return c.verify(ctx, x)
	case EffectCommit:
		return c.commit(ctx, x)
	case EffectRestore:
		c.restore(ctx, x)
		return SignalStart
	default:
		x.op.fail(fmt.Errorf("unsupported effect %s", effect))
		return SignalInvalid
	}
}

// validate checks the target snapshot can be deployed, and resolves it into a complete tree
// before the live server is touched.
func (c *Coordinator) validate(ctx context.Context, x *execution) Signal {
	op := x.op
	target, err := c.index.GetTarget(ctx, op.ServerID)
	if err != nil {
		op.fail(err)
		return SignalInvalid
	}
	op.setPrevious(target.Deployed)

	if !c.index.InHistory(op.ServerID, op.Snapshot) {
		op.fail(status.ErrNotInHistory.Wrapf(fmt.Sprintf("snapshot %s does not belong to server %s", op.Snapshot, op.ServerID)))
		return SignalInvalid
	}

	if op.Kind == KindRollback {
		if head, ok := c.index.Head(ctx, op.ServerID); ok && head.ID == op.Snapshot {
			op.fail(status.ErrInvalidSnapshot.Wrapf("a rollback targets an earlier snapshot than the head"))
			return SignalInvalid
		}
	}

	tree, err := c.index.Materialize(ctx, op.Snapshot)
	if err != nil {
		op.fail(err)
		return SignalInvalid
	}
	x.tree = tree
	return SignalValid
}

func (c *Coordinator) push(ctx context.Context, x *execution) Signal {
	err := c.call(ctx, x, func(cctx context.Context) error {
		return c.transport.Push(cctx, x.op.ServerID, x.tree)
	})
	switch {
	case err == nil:
		return SignalPushed
	case errors.Is(err, status.ErrOutcomeUnknown):
		// the push may still land: restoring now would race with it
		x.op.fail(err)
		return SignalLost
	case errors.Is(err, status.ErrTimeout):
		x.op.fail(err)
		return SignalTimeout
	default:
		if !errors.Is(err, status.ErrTransport) {
			err = status.ErrTransport.Wrap(err)
		}
		x.op.fail(err)
		return SignalPushFailed
	}
}

func (c *Coordinator) verify(ctx context.Context, x *execution) Signal {
	if c.reader == nil {
		return SignalVerified
	}

	var deployed model.Tree
	err := c.call(ctx, x, func(cctx context.Context) error {
		var rerr error
		deployed, rerr = c.reader.Read(cctx, x.op.ServerID)
		return rerr
	})
	switch {
	case errors.Is(err, status.ErrTimeout), errors.Is(err, status.ErrOutcomeUnknown):
		x.op.fail(err)
		return SignalTimeout
	case err != nil:
		x.op.fail(status.ErrVerifyMismatch.Wrap(fmt.Errorf("reading back the deployed tree: %w", err)))
		return SignalMismatch
	}

	if mismatches := x.tree.Compare(deployed); len(mismatches) > 0 {
		quoted := mismatches
		if len(quoted) > maxReportedPaths {
			quoted = quoted[:maxReportedPaths]
		}
		x.op.fail(status.ErrVerifyMismatch.Wrapf(fmt.Sprintf("%d path(s) differ: %s", len(mismatches), strings.Join(quoted, ", "))))
		return SignalMismatch
	}
	return SignalVerified
}

func (c *Coordinator) commit(ctx context.Context, x *execution) Signal {
	if _, err := c.index.CommitDeploy(context.WithoutCancel(ctx), x.op.ServerID, x.op.Snapshot, c.clock.Now()); err != nil {
		x.op.fail(err)
		return SignalRecordFailed
	}
	return SignalRecorded
}

// restore pushes back the snapshot deployed before the operation started, on a best effort basis
func (c *Coordinator) restore(ctx context.Context, x *execution) {
	previous := x.op.getPrevious()
	if previous == "" {
		x.l.Warn("no previously deployed snapshot to restore")
		return
	}

	tree, err := c.index.Materialize(context.WithoutCancel(ctx), previous)
	if err == nil {
		err = c.call(ctx, x, func(cctx context.Context) error {
			return c.transport.Push(cctx, x.op.ServerID, tree)
		})
	}
	if err != nil {
		x.op.setRestoreErr(err)
		x.l.Error("could not restore the previously deployed snapshot", zap.String("parent", previous), zap.Error(err))
		return
	}
	x.l.Info("previously deployed snapshot restored", zap.String("parent", previous))
}

// call runs a blocking call to a server with a timeout.
//
// Calls ignore the cancellation of ctx: once started they run to completion or time out.
// A timed out call is cancelled, then given the grace period to return. A call still running
// after that is tracked on the execution and reported with status.ErrOutcomeUnknown.
func (c *Coordinator) call(ctx context.Context, x *execution, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return status.ErrTimeout.Wrap(err)
		}
		return err
	case <-cctx.Done():
	}

	cancel()
	var expired <-chan time.Time
	if c.grace > 0 {
		timer := time.NewTimer(c.grace)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			x.l.Debug("timed out call returned", zap.Error(err))
		}
		return status.ErrTimeout.Wrapf(fmt.Sprintf("no answer from server after %v", c.timeout))
	case <-expired:
		x.inFlight = append(x.inFlight, done)
		return status.ErrOutcomeUnknown.Wrapf(fmt.Sprintf("server call still running %v after timing out at %v", c.grace, c.timeout))
	}
}

func (c *Coordinator) publish(ctx context.Context, op *Operation, state State) {
	ev := events.Event{
		Kind:      events.KindDeploy,
		ServerID:  op.ServerID,
		Snapshot:  op.Snapshot,
		Parent:    op.getPrevious(),
		Operation: op.ID,
		State:     string(state),
		Author:    op.Author,
		Time:      c.clock.Now(),
	}
	if state.Terminal() {
		if err := op.Err(); err != nil {
			ev.Error = err.Error()
		}
	}
	c.events.Publish(ctx, ev)
}

func (c *Coordinator) remember(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ops := append(c.ops[op.ServerID], op)
	// only finished operations are forgotten, oldest first
	if excess := len(ops) - c.keep; excess > 0 {
		kept := make([]*Operation, 0, len(ops))
		for _, o := range ops {
			if excess > 0 && o.State().Terminal() {
				excess--
				continue
			}
			kept = append(kept, o)
		}
		ops = kept
	}
	c.ops[op.ServerID] = ops
}

// Operations reports the latest operations on a server, newest first
func (c *Coordinator) Operations(serverID string) []Report {
	c.mu.Lock()
	ops := make([]*Operation, len(c.ops[serverID]))
	copy(ops, c.ops[serverID])
	c.mu.Unlock()

	reports := make([]Report, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		reports = append(reports, ops[i].Report())
	}
	return reports
}

// Operation finds a remembered operation
func (c *Coordinator) Operation(id string) (*Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ops := range c.ops {
		for _, op := range ops {
			if op.ID == id {
				return op, true
			}
		}
	}
	return nil, false
}

// Running lists the operations which did not reach a terminal state yet, sorted by start time
func (c *Coordinator) Running() []*Operation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var running []*Operation
	for _, ops := range c.ops {
		for _, op := range ops {
			if !op.State().Terminal() {
				running = append(running, op)
			}
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].Started.Before(running[j].Started) })
	return running
}
