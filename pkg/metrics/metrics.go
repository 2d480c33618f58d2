// Package metrics exposes prometheus collectors for the content store, the snapshot index,
// the backup scheduler and the deploy coordinator.
//
// All recording methods are safe to call on a nil *M, so components may run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "confmon"

// M describes metrics for the configuration control plane
type M struct {
	Blobs struct {
		Written   prometheus.Counter
		Deduped   prometheus.Counter
		Bytes     prometheus.Counter
		Corrupted prometheus.Counter
		Deleted   prometheus.Counter
	}

	Snapshots struct {
		Created *prometheus.CounterVec // by kind
		Pruned  prometheus.Counter
		Swept   prometheus.Counter
	}

	Backups struct {
		Runs     *prometheus.CounterVec // by trigger, result
		Duration prometheus.Histogram
	}

	Deploys struct {
		Runs     *prometheus.CounterVec // by kind, final state
		Duration prometheus.Histogram
	}
}

// New builds the collectors and registers them to reg.
//
// A nil registerer leaves the collectors unregistered.
func New(reg prometheus.Registerer) *M {
	m := &M{}

	m.Blobs.Written = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blobs", Name: "written_total",
		Help: "number of blobs written to the content store",
	})
	m.Blobs.Deduped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blobs", Name: "deduplicated_total",
		Help: "number of puts resolved to an existing blob",
	})
	m.Blobs.Bytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blobs", Name: "written_bytes_total",
		Help: "cumulated size of the blobs written to the content store",
	})
	m.Blobs.Corrupted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blobs", Name: "corrupted_total",
		Help: "number of integrity check failures",
	})
	m.Blobs.Deleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blobs", Name: "deleted_total",
		Help: "number of blobs removed from the content store",
	})

	m.Snapshots.Created = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "snapshots", Name: "created_total",
		Help: "number of snapshots recorded",
	}, []string{"kind"})
	m.Snapshots.Pruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "snapshots", Name: "pruned_total",
		Help: "number of snapshots removed by retention",
	})
	m.Snapshots.Swept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "snapshots", Name: "gc_swept_blobs_total",
		Help: "number of unreferenced blobs removed by garbage collection",
	})

	m.Backups.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "backups", Name: "runs_total",
		Help: "number of backup runs",
	}, []string{"trigger", "result"})
	m.Backups.Duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "backups", Name: "duration_seconds",
		Help:    "duration of backup runs",
		Buckets: prometheus.DefBuckets,
	})

	m.Deploys.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "deploys", Name: "runs_total",
		Help: "number of deploy and rollback operations, by final state",
	}, []string{"kind", "state"})
	m.Deploys.Duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "deploys", Name: "duration_seconds",
		Help:    "duration of deploy and rollback operations",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *M) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Blobs.Written, m.Blobs.Deduped, m.Blobs.Bytes, m.Blobs.Corrupted, m.Blobs.Deleted,
		m.Snapshots.Created, m.Snapshots.Pruned, m.Snapshots.Swept,
		m.Backups.Runs, m.Backups.Duration,
		m.Deploys.Runs, m.Deploys.Duration,
	}
}

// BlobWritten records a new blob
func (m *M) BlobWritten(size int) {
	if m == nil {
		return
	}
	m.Blobs.Written.Inc()
	m.Blobs.Bytes.Add(float64(size))
}

// BlobDeduped records a put which found its blob already stored
func (m *M) BlobDeduped() {
	if m == nil {
		return
	}
	m.Blobs.Deduped.Inc()
}

// BlobCorrupted records an integrity failure
func (m *M) BlobCorrupted() {
	if m == nil {
		return
	}
	m.Blobs.Corrupted.Inc()
}

// BlobDeleted records a blob removal
func (m *M) BlobDeleted() {
	if m == nil {
		return
	}
	m.Blobs.Deleted.Inc()
}

// SnapshotCreated records a new snapshot of some kind
func (m *M) SnapshotCreated(kind string) {
	if m == nil {
		return
	}
	m.Snapshots.Created.WithLabelValues(kind).Inc()
}

// SnapshotsPruned records removals by retention
func (m *M) SnapshotsPruned(count int) {
	if m == nil {
		return
	}
	m.Snapshots.Pruned.Add(float64(count))
}

// BlobsSwept records removals by garbage collection
func (m *M) BlobsSwept(count int) {
	if m == nil {
		return
	}
	m.Snapshots.Swept.Add(float64(count))
}

// Backup records a backup run started at some time
func (m *M) Backup(trigger, result string, start time.Time) {
	if m == nil {
		return
	}
	m.Backups.Runs.WithLabelValues(trigger, result).Inc()
	m.Backups.Duration.Observe(time.Since(start).Seconds())
}

// Deploy records a deploy operation started at some time
func (m *M) Deploy(kind, state string, start time.Time) {
	if m == nil {
		return
	}
	m.Deploys.Runs.WithLabelValues(kind, state).Inc()
	m.Deploys.Duration.Observe(time.Since(start).Seconds())
}
