package engine

import (
	"time"

	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option for the runtime
type Option func(*settings)

type settings struct {
	kvPath      string
	inMemory    bool
	concurrency int
	clock       model.Clock
	verify      bool
	timeout     time.Duration
	retries     uint64
	baseDelay   time.Duration
	maxDelay    time.Duration
	fullEvery   time.Duration

	events events.Publisher
	m      *metrics.M
	l      *zap.Logger
	tr     trace.Tracer
}

func defaultSettings() settings {
	return settings{
		verify:    true,
		timeout:   deploy.DefaultTimeout,
		retries:   scheduler.DefaultRetries,
		baseDelay: scheduler.DefaultBaseDelay,
		maxDelay:  scheduler.DefaultMaxDelay,
		clock:     model.SystemClock{},
		events:    events.Nop{},
		l:         zap.NewNop(),
	}
}

// WithKVPath sets the directory of the snapshot index database
func WithKVPath(pth string) Option {
	return func(s *settings) {
		s.kvPath = pth
	}
}

// WithInMemory keeps the snapshot index in memory only
func WithInMemory(inMemory bool) Option {
	return func(s *settings) {
		s.inMemory = inMemory
	}
}

// WithConcurrency bounds the number of parallel blob transfers
func WithConcurrency(concurrency int) Option {
	return func(s *settings) {
		s.concurrency = concurrency
	}
}

func WithClock(clock model.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithVerify toggles the verification of deployed trees
func WithVerify(verify bool) Option {
	return func(s *settings) {
		s.verify = verify
	}
}

// WithTimeout bounds every call to a live server during deploys
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithRetries sets the retry policy of scheduled backups
func WithRetries(retries uint64, base, maxDelay time.Duration) Option {
	return func(s *settings) {
		s.retries = retries
		s.baseDelay = base
		s.maxDelay = maxDelay
	}
}

// WithFullEvery sets the default interval between full backups
func WithFullEvery(d time.Duration) Option {
	return func(s *settings) {
		s.fullEvery = d
	}
}

func WithEvents(publisher events.Publisher) Option {
	return func(s *settings) {
		if publisher != nil {
			s.events = publisher
		}
	}
}

func WithMetrics(m *metrics.M) Option {
	return func(s *settings) {
		s.m = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.l = l
		}
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *settings) {
		s.tr = tr
	}
}
