// Package engine assembles the configuration control plane: the content store, the snapshot
// index, the backup scheduler and the deploy coordinator, sharing one per-server lock table.
package engine

import (
	"context"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/keylock"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"go.uber.org/zap"
)

// Runtime for confmon
type Runtime struct {
	index     *core.Index
	scheduler *scheduler.Scheduler
	deployer  *deploy.Coordinator
	locks     *keylock.Table
	events    events.Publisher
	l         *zap.Logger
}

// New initializes a runtime over a content store.
//
// Server trees are read through reader and deployed through transport.
func New(blobs cafs.Fs, reader model.TreeReader, transport model.Transport, opts ...Option) (*Runtime, error) {
	s := defaultSettings()
	for _, apply := range opts {
		apply(&s)
	}

	index, err := core.New(
		core.WithBlobs(blobs),
		core.WithKVPath(s.kvPath),
		core.WithInMemory(s.inMemory),
		core.WithConcurrency(s.concurrency),
		core.WithClock(s.clock),
		core.WithLogger(s.l.With(zap.String("component", "index"))),
		core.WithMetrics(s.m),
	)
	if err != nil {
		return nil, err
	}

	locks := keylock.New()
	backups := scheduler.New(index, reader,
		scheduler.WithLocks(locks),
		scheduler.WithClock(s.clock),
		scheduler.WithRetries(s.retries),
		scheduler.WithBackoff(s.baseDelay, s.maxDelay),
		scheduler.WithFullEvery(s.fullEvery),
		scheduler.WithEvents(s.events),
		scheduler.WithMetrics(s.m),
		scheduler.WithLogger(s.l.With(zap.String("component", "scheduler"))),
		scheduler.WithTracer(s.tr),
	)

	var verifier model.TreeReader
	if s.verify {
		verifier = reader
	}
	deployer := deploy.New(index, transport,
		deploy.WithLocks(locks),
		deploy.WithVerifier(verifier),
		deploy.WithTimeout(s.timeout),
		deploy.WithClock(s.clock),
		deploy.WithEvents(s.events),
		deploy.WithMetrics(s.m),
		deploy.WithLogger(s.l.With(zap.String("component", "deploy"))),
		deploy.WithTracer(s.tr),
	)

	return &Runtime{
		index:     index,
		scheduler: backups,
		deployer:  deployer,
		locks:     locks,
		events:    s.events,
		l:         s.l,
	}, nil
}

// Index of snapshots
func (r *Runtime) Index() *core.Index {
	return r.index
}

// Scheduler of backups
func (r *Runtime) Scheduler() *scheduler.Scheduler {
	return r.scheduler
}

// Deployer runs deploy operations
func (r *Runtime) Deployer() *deploy.Coordinator {
	return r.deployer
}

// Start running scheduled backups
func (r *Runtime) Start() {
	r.scheduler.Start()
}

// Close the runtime and its events publisher, waiting for running scheduled backups and deploys
func (r *Runtime) Close(ctx context.Context) error {
	select {
	case <-r.scheduler.Stop().Done():
	case <-ctx.Done():
		r.l.Warn("closing with scheduled backups still running")
	}

	for _, op := range r.deployer.Running() {
		select {
		case <-op.Done():
		case <-ctx.Done():
			r.l.Warn("closing with a deploy still running", zap.String("operation", op.ID), zap.String("server", op.ServerID))
		}
	}

	r.events.Close()
	return r.index.Close()
}
