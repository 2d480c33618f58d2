package core

import (
	"runtime"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"go.uber.org/zap"
)

// Option sets options for the snapshot index
type Option func(*Settings)

// Settings defines various settings for the snapshot index
type Settings struct {
	blobs       cafs.Fs
	kvPath      string
	inMemory    bool
	concurrency int
	clock       model.Clock
	l           *zap.Logger
	m           *metrics.M
}

var (
	defaultConcurrency = 2 * runtime.NumCPU()
)

// WithBlobs sets the content store holding file payloads
func WithBlobs(blobs cafs.Fs) Option {
	return func(s *Settings) {
		s.blobs = blobs
	}
}

// WithKVPath sets the directory of the persistent index
func WithKVPath(pth string) Option {
	return func(s *Settings) {
		s.kvPath = pth
	}
}

// WithInMemory keeps the index in memory only
func WithInMemory(inMemory bool) Option {
	return func(s *Settings) {
		s.inMemory = inMemory
	}
}

// WithConcurrency sets the max number of concurrent blob operations. It defaults to 2 x #cpus.
func WithConcurrency(concurrency int) Option {
	return func(s *Settings) {
		if concurrency <= 0 {
			s.concurrency = defaultConcurrency
			return
		}
		s.concurrency = concurrency
	}
}

// WithClock sets the clock used to timestamp snapshots
func WithClock(clock model.Clock) Option {
	return func(s *Settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Settings) {
		if l != nil {
			s.l = l
		}
	}
}

// WithMetrics enables metrics collection
func WithMetrics(m *metrics.M) Option {
	return func(s *Settings) {
		s.m = m
	}
}

func defaultSettings() Settings {
	return Settings{
		concurrency: defaultConcurrency,
		clock:       model.SystemClock{},
		l:           zap.NewNop(),
	}
}
