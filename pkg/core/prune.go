package core

import (
	"context"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/model"
	"go.uber.org/zap"
)

// PruneResult reports the outcome of a pruning
type PruneResult struct {
	Removed   []string // removed snapshots, newest first
	Protected []string // snapshots not kept by the policy, but required by a retained snapshot
}

// Prune removes the snapshots of a server which the retention policy does not keep.
//
// The head and the deployed snapshot are always retained. So is every snapshot needed to
// materialize a retained one, back to its nearest full snapshot.
func (x *Index) Prune(_ context.Context, serverID string, keep RetentionPolicy) (PruneResult, error) {
	if keep == nil {
		keep = KeepAll()
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	history := x.histories[serverID]
	if len(history) == 0 {
		return PruneResult{}, status.WithDetail(status.ErrNotFound.Wrapf("no history"), serverID, "")
	}

	head := x.records[history[len(history)-1]]
	deployed := x.targets[serverID].Deployed
	rc := RetentionContext{
		Total:    len(history),
		Now:      x.clock.Now(),
		Head:     head.ID,
		Deployed: deployed,
	}

	retained := make(map[string]struct{}, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		snapshot := x.records[history[i]]
		rc.Index = len(history) - 1 - i
		if snapshot.ID == head.ID || snapshot.ID == deployed || keep(cloneSnapshot(snapshot), rc) {
			retained[snapshot.ID] = struct{}{}
		}
	}

	required := make(map[string]struct{})
	for id := range retained {
		x.markChain(id, required)
	}

	var (
		result  PruneResult
		deletes []string
	)
	for i := len(history) - 1; i >= 0; i-- {
		snapshot := x.records[history[i]]
		if _, ok := retained[snapshot.ID]; ok {
			continue
		}
		if _, ok := required[snapshot.ID]; ok {
			result.Protected = append(result.Protected, snapshot.ID)
			continue
		}
		result.Removed = append(result.Removed, snapshot.ID)
		deletes = append(deletes, histKey(serverID, snapshot.Sequence), snapKey(snapshot.ID))
	}

	if len(result.Removed) == 0 {
		return result, nil
	}

	if err := x.kv.Commit(nil, deletes); err != nil {
		return PruneResult{}, status.WithDetail(err, serverID, "")
	}

	kept := make([]int, 0, len(history)-len(result.Removed))
	removed := make(map[string]struct{}, len(result.Removed))
	for _, id := range result.Removed {
		removed[id] = struct{}{}
	}
	for _, pos := range history {
		id := x.records[pos].ID
		if _, ok := removed[id]; ok {
			delete(x.byID, id)
			x.records[pos] = nil
			continue
		}
		kept = append(kept, pos)
	}
	x.histories[serverID] = kept

	x.m.SnapshotsPruned(len(result.Removed))
	x.l.Info("history pruned",
		zap.String("server", serverID),
		zap.Int("removed", len(result.Removed)),
		zap.Int("protected", len(result.Protected)),
	)
	return result, nil
}

// markChain marks the strict ancestors of a snapshot needed to materialize it.
// Callers hold the lock.
func (x *Index) markChain(id string, required map[string]struct{}) {
	current, ok := x.get(id)
	for steps := 0; ok && steps <= len(x.records); steps++ {
		if current.Kind == model.KindFull || current.ParentID == "" {
			return
		}
		if _, done := required[current.ParentID]; done {
			return
		}
		required[current.ParentID] = struct{}{}
		current, ok = x.get(current.ParentID)
	}
}
