package scheduler

import (
	"time"

	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/keylock"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/model"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultRetries is the default number of re-attempts of a failed scheduled backup
	DefaultRetries = 3

	// DefaultBaseDelay is the default initial delay between re-attempts
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps the delay between re-attempts
	DefaultMaxDelay = time.Minute

	// DefaultParentRetries is the default number of re-attempts on a concurrent history update
	DefaultParentRetries = 3
)

// Option for the backup scheduler
type Option func(*Scheduler)

// WithLocks shares a per-server lock table with other components
func WithLocks(locks *keylock.Table) Option {
	return func(s *Scheduler) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithClock sets the clock used to evaluate full backup intervals
func WithClock(clock model.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRetries sets the number of re-attempts of a failed scheduled backup
func WithRetries(retries uint64) Option {
	return func(s *Scheduler) {
		s.retries = retries
	}
}

// WithBackoff sets the bounds of the exponential delay between re-attempts
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(s *Scheduler) {
		if base > 0 {
			s.baseDelay = base
		}
		if maxDelay > 0 {
			s.maxDelay = maxDelay
		}
	}
}

// WithParentRetries sets the number of re-attempts when the history moved under a backup
func WithParentRetries(retries int) Option {
	return func(s *Scheduler) {
		if retries >= 0 {
			s.parentRetries = retries
		}
	}
}

// WithFullEvery sets the default interval between full backups. Zero disables periodic full backups.
func WithFullEvery(d time.Duration) Option {
	return func(s *Scheduler) {
		s.fullEvery = d
	}
}

// WithEvents sets an events publisher
func WithEvents(p events.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMetrics enables metrics collection
func WithMetrics(m *metrics.M) Option {
	return func(s *Scheduler) {
		s.m = m
	}
}

// WithLogger sets a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.l = l
		}
	}
}

// WithTracer sets a tracer
func WithTracer(tr trace.Tracer) Option {
	return func(s *Scheduler) {
		if tr != nil {
			s.tr = tr
		}
	}
}
