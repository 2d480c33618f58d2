package engine

import (
	"context"
	"sort"
	"time"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"go.uber.org/zap"
)

// RegisterServer declares a deployable server
func (r *Runtime) RegisterServer(ctx context.Context, serverID, transport string) (model.ServerTarget, error) {
	return r.index.RegisterTarget(ctx, serverID, transport)
}

// Servers lists the known servers, sorted by identifier
func (r *Runtime) Servers(ctx context.Context) []model.ServerTarget {
	return r.index.ListTargets(ctx)
}

// CreateBackup snapshots the current tree of a server now
func (r *Runtime) CreateBackup(ctx context.Context, req scheduler.Request) (scheduler.Result, error) {
	return r.scheduler.Backup(ctx, req)
}

// ListHistory lists the snapshots of a server, newest first
func (r *Runtime) ListHistory(ctx context.Context, serverID string) ([]model.Snapshot, error) {
	if err := core.ValidateServerID(serverID); err != nil {
		return nil, err
	}
	return r.index.ListHistory(ctx, serverID), nil
}

// GetSnapshot finds a snapshot from its identifier, or an unambiguous prefix of it
func (r *Runtime) GetSnapshot(ctx context.Context, id string) (model.Snapshot, error) {
	full, err := r.index.ResolveID(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	return r.index.GetSnapshot(ctx, full)
}

// Materialize the complete file tree of a snapshot
func (r *Runtime) Materialize(ctx context.Context, id string) (model.Tree, error) {
	full, err := r.index.ResolveID(id)
	if err != nil {
		return nil, err
	}
	return r.index.Materialize(ctx, full)
}

// Diff two snapshots, possibly from different servers
func (r *Runtime) Diff(ctx context.Context, from, to string, opts ...core.DiffOption) (core.SnapshotDiff, error) {
	fromID, err := r.index.ResolveID(from)
	if err != nil {
		return core.SnapshotDiff{}, err
	}
	toID, err := r.index.ResolveID(to)
	if err != nil {
		return core.SnapshotDiff{}, err
	}
	return core.Diff(ctx, r.index, fromID, toID, opts...)
}

// Deploy a snapshot onto a server and wait for the outcome
func (r *Runtime) Deploy(ctx context.Context, serverID, snapshot, author string) (deploy.Report, error) {
	id, err := r.index.ResolveID(snapshot)
	if err != nil {
		return deploy.Report{}, status.WithDetail(err, serverID, snapshot)
	}
	return r.deployer.Deploy(ctx, deploy.Request{ServerID: serverID, Snapshot: id, Author: author})
}

// Rollback a server to an earlier snapshot and wait for the outcome
func (r *Runtime) Rollback(ctx context.Context, serverID, snapshot, author string) (deploy.Report, error) {
	id, err := r.index.ResolveID(snapshot)
	if err != nil {
		return deploy.Report{}, status.WithDetail(err, serverID, snapshot)
	}
	return r.deployer.Rollback(ctx, deploy.Request{ServerID: serverID, Snapshot: id, Author: author})
}

// Operations lists the latest deploy operations on a server, newest first
func (r *Runtime) Operations(serverID string) []deploy.Report {
	return r.deployer.Operations(serverID)
}

// Prune the history of a server.
//
// Pruning waits for running backups and deploys of the server.
func (r *Runtime) Prune(ctx context.Context, serverID string, keep core.RetentionPolicy) (core.PruneResult, error) {
	unlock, err := r.locks.Lock(ctx, serverID)
	if err != nil {
		return core.PruneResult{}, status.WithDetail(status.ErrCancelled.Wrap(err), serverID, "")
	}
	defer unlock()

	return r.index.Prune(ctx, serverID, keep)
}

// GC removes the blobs no snapshot references anymore
func (r *Runtime) GC(ctx context.Context) (core.GCResult, error) {
	return r.index.GC(ctx)
}

// Verify re-reads every blob of the content store and reports the corrupted ones
func (r *Runtime) Verify(ctx context.Context) ([]cafs.Key, error) {
	corrupted, err := r.index.Blobs().Verify(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range corrupted {
		r.l.Error("corrupted blob", zap.Stringer("hash", key))
	}
	return corrupted, nil
}

// Schedule periodic backups of a server
func (r *Runtime) Schedule(job scheduler.Job) error {
	return r.scheduler.AddJob(job)
}

// Unschedule the periodic backups of a server
func (r *Runtime) Unschedule(serverID string) {
	r.scheduler.RemoveJob(serverID)
}

// Jobs lists the scheduled backups
func (r *Runtime) Jobs() []scheduler.Job {
	return r.scheduler.Jobs()
}

// ServerStats summarizes the history of a server
type ServerStats struct {
	ServerID   string    `json:"server" yaml:"server"`
	Transport  string    `json:"transport,omitempty" yaml:"transport,omitempty"`
	Snapshots  int       `json:"snapshots" yaml:"snapshots"`
	Full       int       `json:"full" yaml:"full"`
	Head       string    `json:"head,omitempty" yaml:"head,omitempty"`
	Deployed   string    `json:"deployed,omitempty" yaml:"deployed,omitempty"`
	LastBackup time.Time `json:"last_backup" yaml:"last_backup"`
	TreeSize   uint64    `json:"size" yaml:"size"`
}

// Stats summarizes the history of every known server, registered or backed up
func (r *Runtime) Stats(ctx context.Context) []ServerStats {
	known := make(map[string]ServerStats)
	for _, serverID := range r.index.Servers() {
		known[serverID] = ServerStats{ServerID: serverID}
	}
	for _, target := range r.index.ListTargets(ctx) {
		known[target.ServerID] = ServerStats{
			ServerID:  target.ServerID,
			Transport: target.Transport,
			Deployed:  target.Deployed,
		}
	}

	stats := make([]ServerStats, 0, len(known))
	for serverID, st := range known {
		for _, snapshot := range r.index.ListHistory(ctx, serverID) {
			st.Snapshots++
			if snapshot.Kind == model.KindFull {
				st.Full++
			}
		}
		if head, ok := r.index.Head(ctx, serverID); ok {
			st.Head = head.ID
			st.LastBackup = head.Timestamp
			st.TreeSize = head.TreeSize
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ServerID < stats[j].ServerID })
	return stats
}
