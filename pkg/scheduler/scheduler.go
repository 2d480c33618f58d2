// Package scheduler triggers backups of server configuration trees, on a cron schedule or on demand.
//
// A backup reads the current tree of a server and appends a snapshot to its history.
// It is all-or-nothing: a failed read or a failed append leaves the history untouched.
//
// Backups hold the per-server lock for their whole duration, so they never interleave with
// a deploy on the same server.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/keylock"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	triggerOnDemand  = "on_demand"
	triggerScheduled = "scheduled"
)

// Index is the part of the snapshot index a scheduler appends to
type Index interface {
	Head(context.Context, string) (model.Snapshot, bool)
	LastFull(context.Context, string) (model.Snapshot, bool)
	CreateSnapshot(context.Context, core.NewSnapshot) (model.Snapshot, error)
}

// Request for a backup
type Request struct {
	ServerID string
	Author   string
	Message  string
	Kind     model.Kind // full, incremental or auto
}

// Result of a backup
type Result struct {
	Snapshot model.Snapshot
	Skipped  bool // the tree did not change since the head snapshot
	Attempts int
}

// Job is a scheduled backup of a server
type Job struct {
	ServerID  string        `json:"server" mapstructure:"server"`
	Schedule  string        `json:"schedule" mapstructure:"schedule"`               // cron expression
	FullEvery time.Duration `json:"full_every,omitempty" mapstructure:"full_every"` // overrides the scheduler default when positive
	Author    string        `json:"author,omitempty" mapstructure:"author"`
	Timeout   time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

// Scheduler runs backups
type Scheduler struct {
	index  Index
	reader model.TreeReader
	locks  *keylock.Table
	clock  model.Clock

	retries       uint64
	baseDelay     time.Duration
	maxDelay      time.Duration
	parentRetries int
	fullEvery     time.Duration

	events events.Publisher
	m      *metrics.M
	l      *zap.Logger
	tr     trace.Tracer

	cron *cron.Cron
	mx   sync.Mutex
	jobs map[string]jobEntry
}

type jobEntry struct {
	job   Job
	entry cron.EntryID
}

// New backup scheduler
func New(index Index, reader model.TreeReader, opts ...Option) *Scheduler {
	s := &Scheduler{
		index:         index,
		reader:        reader,
		locks:         keylock.New(),
		clock:         model.SystemClock{},
		retries:       DefaultRetries,
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
		parentRetries: DefaultParentRetries,
		events:        events.Nop{},
		l:             zap.NewNop(),
		tr:            otel.Tracer("github.com/oneconcern/confmon/pkg/scheduler"),
		jobs:          make(map[string]jobEntry),
	}
	for _, apply := range opts {
		apply(s)
	}

	s.cron = cron.New(
		cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.l))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return s
}

// Backup runs a backup now. Failures are reported immediately, without retry.
func (s *Scheduler) Backup(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := s.backup(ctx, req, false)
	s.record(triggerOnDemand, res, err, start)
	return res, err
}

// RunJob runs a scheduled backup, retrying failures with a bounded exponential backoff.
//
// Corrupted content and broken chains are never retried.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (Result, error) {
	start := time.Now()
	req := Request{
		ServerID: job.ServerID,
		Author:   job.Author,
		Message:  "scheduled backup",
		Kind:     model.KindAuto,
	}
	if req.Author == "" {
		req.Author = "scheduler"
	}

	var (
		res      Result
		attempts int
	)
	operation := func() error {
		attempts++
		var err error
		res, err = s.backupWithInterval(ctx, req, true, job.FullEvery)
		if err != nil && !status.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.l.Warn("scheduled backup failed, retrying",
			zap.String("server", job.ServerID),
			zap.Int("attempt", attempts),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.retries), ctx), notify)
	res.Attempts = attempts
	s.record(triggerScheduled, res, err, start)
	return res, err
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxInterval = s.maxDelay
	b.MaxElapsedTime = 0
	return b
}

func (s *Scheduler) backup(ctx context.Context, req Request, scheduled bool) (Result, error) {
	return s.backupWithInterval(ctx, req, scheduled, 0)
}

func (s *Scheduler) backupWithInterval(ctx context.Context, req Request, scheduled bool, fullEvery time.Duration) (res Result, err error) {
	ctx, span := s.tr.Start(ctx, "scheduler.backup", trace.WithAttributes(
		attribute.String("server", req.ServerID),
		attribute.Bool("scheduled", scheduled),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if fullEvery <= 0 {
		fullEvery = s.fullEvery
	}

	unlock, err := s.locks.Lock(ctx, req.ServerID)
	if err != nil {
		return Result{}, status.WithDetail(status.ErrCancelled.Wrap(err), req.ServerID, "")
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		res, err = s.attempt(ctx, req, scheduled, fullEvery)
		if errors.Is(err, status.ErrParentMismatch) && attempt < s.parentRetries {
			s.l.Info("history moved during backup, retrying against the new head", zap.String("server", req.ServerID))
			continue
		}
		return res, err
	}
}

func (s *Scheduler) attempt(ctx context.Context, req Request, scheduled bool, fullEvery time.Duration) (Result, error) {
	tree, err := s.reader.Read(ctx, req.ServerID)
	if err != nil {
		if !errors.Is(err, status.ErrUnreachable) {
			err = status.ErrUnreachable.Wrap(err)
		}
		return Result{}, status.WithDetail(err, req.ServerID, "")
	}

	head, hasHead := s.index.Head(ctx, req.ServerID)
	kind := s.kind(ctx, req, hasHead, fullEvery)

	if scheduled && hasHead && kind == model.KindIncremental && core.TreeHash(tree) == head.TreeHash {
		s.l.Debug("tree unchanged, backup skipped", zap.String("server", req.ServerID), zap.String("snapshot", head.ID))
		return Result{Snapshot: head, Skipped: true}, nil
	}

	snapshot, err := s.index.CreateSnapshot(ctx, core.NewSnapshot{
		ServerID: req.ServerID,
		Parent:   head.ID,
		Author:   req.Author,
		Message:  req.Message,
		Kind:     kind,
		Files:    tree,
	})
	if err != nil {
		return Result{}, err
	}

	s.events.Publish(ctx, events.Event{
		Kind:     events.KindBackup,
		ServerID: snapshot.ServerID,
		Snapshot: snapshot.ID,
		Parent:   snapshot.ParentID,
		State:    string(snapshot.Kind),
		Author:   snapshot.Author,
		Message:  snapshot.Message,
		Time:     snapshot.Timestamp,
	})
	return Result{Snapshot: snapshot}, nil
}

// kind decides between a full and an incremental snapshot
func (s *Scheduler) kind(ctx context.Context, req Request, hasHead bool, fullEvery time.Duration) model.Kind {
	if !hasHead {
		return model.KindFull
	}
	switch req.Kind {
	case model.KindFull, model.KindIncremental:
		return req.Kind
	}

	lastFull, ok := s.index.LastFull(ctx, req.ServerID)
	if !ok {
		return model.KindFull
	}
	if fullEvery > 0 && s.clock.Now().Sub(lastFull.Timestamp) >= fullEvery {
		return model.KindFull
	}
	return model.KindIncremental
}

func (s *Scheduler) record(trigger string, res Result, err error, start time.Time) {
	result := "created"
	switch {
	case err != nil:
		result = "failed"
	case res.Skipped:
		result = "skipped"
	}
	s.m.Backup(trigger, result, start)

	if err != nil {
		s.l.Error("backup failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

// AddJob schedules a backup job, replacing any job on the same server
func (s *Scheduler) AddJob(job Job) error {
	if err := core.ValidateServerID(job.ServerID); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for server %s: %w", job.Schedule, job.ServerID, err)
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if previous, ok := s.jobs[job.ServerID]; ok {
		s.cron.Remove(previous.entry)
	}
	entry, err := s.cron.AddFunc(job.Schedule, func() { s.runScheduled(job) })
	if err != nil {
		return err
	}
	s.jobs[job.ServerID] = jobEntry{job: job, entry: entry}
	s.l.Info("backup job scheduled", zap.String("server", job.ServerID), zap.String("schedule", job.Schedule))
	return nil
}

// RemoveJob unschedules the backup job of a server
func (s *Scheduler) RemoveJob(serverID string) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if previous, ok := s.jobs[serverID]; ok {
		s.cron.Remove(previous.entry)
		delete(s.jobs, serverID)
	}
}

// Jobs lists the scheduled jobs, sorted by server
func (s *Scheduler) Jobs() []Job {
	s.mx.Lock()
	defer s.mx.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ServerID < jobs[j].ServerID })
	return jobs
}

// Next tells when the job of a server runs next
func (s *Scheduler) Next(serverID string) (time.Time, bool) {
	s.mx.Lock()
	j, ok := s.jobs[serverID]
	s.mx.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(j.entry).Next, true
}

func (s *Scheduler) runScheduled(job Job) {
	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	res, err := s.RunJob(ctx, job)
	if err != nil {
		return
	}
	if !res.Skipped {
		s.l.Info("scheduled backup created", zap.String("server", job.ServerID), zap.String("snapshot", res.Snapshot.ID))
	}
}

// Start running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop scheduling jobs. The returned context is done when running jobs complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
