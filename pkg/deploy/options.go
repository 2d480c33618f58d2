package deploy

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
	// DefaultTimeout bounds every call to the deploy transport and to the tree reader
	DefaultTimeout = 30 * time.Second

	// DefaultKeepOperations is the number of operations remembered per server
	DefaultKeepOperations = 20

	// DefaultGracePeriod is how long a timed out call is given to return once cancelled
	DefaultGracePeriod = 5 * time.Second
)

// Option for the deploy coordinator
type Option func(*Coordinator)

// WithLocks shares the per-server lock table with other components, such as the backup scheduler
func WithLocks(locks *keylock.Table) Option {
	return func(c *Coordinator) {
		if locks != nil {
			c.locks = locks
		}
	}
}

// WithVerifier reads deployed trees back to verify them. A nil reader disables verification.
func WithVerifier(reader model.TreeReader) Option {
	return func(c *Coordinator) {
		c.reader = reader
	}
}

// WithTimeout sets the timeout of each transport call. Zero disables timeouts.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithGracePeriod sets how long a timed out call is given to return once cancelled.
//
// A push still running past the grace period fails the operation without restoring the previous
// snapshot, and the server stays locked until the push returns. Zero waits for the call indefinitely.
func WithGracePeriod(grace time.Duration) Option {
	return func(c *Coordinator) {
		c.grace = grace
	}
}

// WithKeepOperations sets how many past operations are remembered per server.
// Operations still running are never forgotten.
func WithKeepOperations(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.keep = n
		}
	}
}

func WithClock(clock model.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithEvents(publisher events.Publisher) Option {
	return func(c *Coordinator) {
		if publisher != nil {
			c.events = publisher
		}
	}
}

func WithMetrics(m *metrics.M) Option {
	return func(c *Coordinator) {
		c.m = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.l = l
		}
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(c *Coordinator) {
		if tr != nil {
			c.tr = tr
		}
	}
}
