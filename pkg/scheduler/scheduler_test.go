package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/fakes"
	"github.com/oneconcern/confmon/pkg/keylock"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/storage/localfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	index  *core.Index
	fleet  *fakes.Fleet
	clock  *fakes.Clock
	events *events.Memory
	m      *metrics.M
	s      *Scheduler
}

func setup(t testing.TB, opts ...Option) *testEnv {
	backend, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)
	blobs, err := cafs.New(cafs.Backend(backend))
	require.NoError(t, err)

	clock := fakes.NewClock(epoch)
	index, err := core.New(
		core.WithBlobs(blobs),
		core.WithInMemory(true),
		core.WithClock(clock),
		core.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	env := &testEnv{
		index:  index,
		fleet:  fakes.NewFleet(),
		clock:  clock,
		events: &events.Memory{},
		m:      metrics.New(nil),
	}
	env.s = New(index, env.fleet, append([]Option{
		WithClock(clock),
		WithEvents(env.events),
		WithMetrics(env.m),
		WithLogger(zaptest.NewLogger(t)),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
	}, opts...)...)
	return env
}

func TestBackupKinds(t *testing.T) {
	ctx := context.Background()
	env := setup(t, WithFullEvery(24*time.Hour))
	env.fleet.Set("s1", fakes.Files("server.cfg", "A"))

	t.Run("should take a full snapshot first", func(t *testing.T) {
		res, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Kind: model.KindAuto})
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, model.KindFull, res.Snapshot.Kind)
		assert.Empty(t, res.Snapshot.ParentID)
		assert.Equal(t, "alice", res.Snapshot.Author)
	})

	t.Run("should take incremental snapshots until the full interval elapses", func(t *testing.T) {
		env.clock.Advance(time.Hour)
		env.fleet.Set("s1", fakes.Files("server.cfg", "B"))

		res, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Kind: model.KindAuto})
		require.NoError(t, err)
		assert.Equal(t, model.KindIncremental, res.Snapshot.Kind)
	})

	t.Run("should take a full snapshot when the full interval elapsed", func(t *testing.T) {
		env.clock.Advance(24 * time.Hour)
		env.fleet.Set("s1", fakes.Files("server.cfg", "C"))

		res, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Kind: model.KindAuto})
		require.NoError(t, err)
		assert.Equal(t, model.KindFull, res.Snapshot.Kind)
	})

	t.Run("should honor an explicit kind", func(t *testing.T) {
		env.fleet.Set("s1", fakes.Files("server.cfg", "D"))

		res, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Kind: model.KindFull})
		require.NoError(t, err)
		assert.Equal(t, model.KindFull, res.Snapshot.Kind)
	})

	history := env.index.ListHistory(ctx, "s1")
	require.Len(t, history, 4)
	assert.Len(t, env.events.Events(events.KindBackup), 4)
	assert.Equal(t, float64(4), testutil.ToFloat64(env.m.Backups.Runs.WithLabelValues(triggerOnDemand, "created")))
}

func TestBackupUnchanged(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	env.fleet.Set("s1", fakes.Files("server.cfg", "A"))

	first, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Kind: model.KindAuto})
	require.NoError(t, err)

	t.Run("should skip a scheduled backup of an unchanged tree", func(t *testing.T) {
		res, err := env.s.RunJob(ctx, Job{ServerID: "s1", Schedule: "@hourly"})
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, first.Snapshot.ID, res.Snapshot.ID)
		assert.Len(t, env.index.ListHistory(ctx, "s1"), 1)
		assert.Equal(t, float64(1), testutil.ToFloat64(env.m.Backups.Runs.WithLabelValues(triggerScheduled, "skipped")))
	})

	t.Run("should record an explicit backup of an unchanged tree", func(t *testing.T) {
		res, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice", Message: "checkpoint", Kind: model.KindAuto})
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.NotEqual(t, first.Snapshot.ID, res.Snapshot.ID)
		assert.Equal(t, first.Snapshot.TreeHash, res.Snapshot.TreeHash)
		assert.Equal(t, first.Snapshot.ID, res.Snapshot.ParentID)
		assert.Len(t, env.index.ListHistory(ctx, "s1"), 2)
	})

	t.Run("should record a scheduled backup of a changed tree", func(t *testing.T) {
		env.fleet.Set("s1", fakes.Files("server.cfg", "B"))
		res, err := env.s.RunJob(ctx, Job{ServerID: "s1", Schedule: "@hourly"})
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, "scheduler", res.Snapshot.Author)
		assert.Len(t, env.index.ListHistory(ctx, "s1"), 3)
	})
}

func TestBackupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("should report an unreachable server without appending", func(t *testing.T) {
		env := setup(t)

		_, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrUnreachable))
		assert.Empty(t, env.index.ListHistory(ctx, "s1"))
		assert.Equal(t, 1, env.fleet.Reads)
		assert.Empty(t, env.events.Events(events.KindBackup))
		assert.Equal(t, float64(1), testutil.ToFloat64(env.m.Backups.Runs.WithLabelValues(triggerOnDemand, "failed")))
	})

	t.Run("should wrap reader errors as unreachable", func(t *testing.T) {
		env := setup(t)
		env.fleet.Set("s1", fakes.Files("server.cfg", "A"))
		env.fleet.ReadHook = func(context.Context, string) error { return errors.New("connection reset") }

		_, err := env.s.Backup(ctx, Request{ServerID: "s1", Author: "alice"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrUnreachable))
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("should retry a scheduled backup on transient failures", func(t *testing.T) {
		env := setup(t)
		env.fleet.Set("s1", fakes.Files("server.cfg", "A"))

		var failures int32
		env.fleet.ReadHook = func(context.Context, string) error {
			if atomic.AddInt32(&failures, 1) <= 2 {
				return errors.New("timeout reading config")
			}
			return nil
		}

		res, err := env.s.RunJob(ctx, Job{ServerID: "s1", Schedule: "@hourly"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, env.fleet.Reads)
		assert.Len(t, env.index.ListHistory(ctx, "s1"), 1)
	})

	t.Run("should give up after the retry budget", func(t *testing.T) {
		env := setup(t, WithRetries(2))

		res, err := env.s.RunJob(ctx, Job{ServerID: "s1", Schedule: "@hourly"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrUnreachable))
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, env.fleet.Reads)
	})

	t.Run("should not retry an invalid server", func(t *testing.T) {
		env := setup(t)
		env.fleet.Set("a/b", fakes.Files("server.cfg", "A"))

		res, err := env.s.RunJob(ctx, Job{ServerID: "a/b", Schedule: "@hourly"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidSnapshot))
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("should wait for the server lock", func(t *testing.T) {
		locks := keylock.New()
		env := setup(t, WithLocks(locks))
		env.fleet.Set("s1", fakes.Files("server.cfg", "A"))

		unlock, err := locks.Lock(ctx, "s1")
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = env.s.Backup(cctx, Request{ServerID: "s1", Author: "alice"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrCancelled))
		assert.Equal(t, 0, env.fleet.Reads)
	})
}

func TestJobs(t *testing.T) {
	env := setup(t)

	t.Run("should refuse an invalid schedule", func(t *testing.T) {
		require.Error(t, env.s.AddJob(Job{ServerID: "s1", Schedule: "every now and then"}))
		require.Error(t, env.s.AddJob(Job{ServerID: "", Schedule: "@hourly"}))
		assert.Empty(t, env.s.Jobs())
	})

	t.Run("should add, replace and remove jobs", func(t *testing.T) {
		require.NoError(t, env.s.AddJob(Job{ServerID: "s2", Schedule: "@daily"}))
		require.NoError(t, env.s.AddJob(Job{ServerID: "s1", Schedule: "@hourly"}))
		require.NoError(t, env.s.AddJob(Job{ServerID: "s1", Schedule: "*/5 * * * *"}))

		jobs := env.s.Jobs()
		require.Len(t, jobs, 2)
		assert.Equal(t, "s1", jobs[0].ServerID)
		assert.Equal(t, "*/5 * * * *", jobs[0].Schedule)
		assert.Len(t, env.s.cron.Entries(), 2)

		env.s.RemoveJob("s1")
		env.s.RemoveJob("unknown")
		jobs = env.s.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, "s2", jobs[0].ServerID)
		assert.Len(t, env.s.cron.Entries(), 1)

		_, ok := env.s.Next("s1")
		assert.False(t, ok)
	})

	t.Run("should run scheduled jobs once started", func(t *testing.T) {
		env := setup(t)
		env.fleet.Set("s1", fakes.Files("server.cfg", "A"))
		require.NoError(t, env.s.AddJob(Job{ServerID: "s1", Schedule: "@every 1s"}))

		env.s.Start()
		require.Eventually(t, func() bool {
			return len(env.index.ListHistory(context.Background(), "s1")) == 1
		}, 5*time.Second, 50*time.Millisecond)
		<-env.s.Stop().Done()
	})
}
