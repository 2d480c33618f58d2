package core

import (
	"context"
	"sort"
	"time"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/model"
	"go.uber.org/zap"
)

// RegisterTarget registers a deployable server, or updates its transport handle
func (x *Index) RegisterTarget(_ context.Context, serverID, transport string) (model.ServerTarget, error) {
	if err := ValidateServerID(serverID); err != nil {
		return model.ServerTarget{}, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	target := x.targets[serverID]
	target.ServerID = serverID
	target.Transport = transport
	if err := x.saveTarget(target); err != nil {
		return model.ServerTarget{}, err
	}

	x.l.Info("server target registered", zap.String("server", serverID))
	return target, nil
}

// GetTarget returns a registered server
func (x *Index) GetTarget(_ context.Context, serverID string) (model.ServerTarget, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	target, ok := x.targets[serverID]
	if !ok {
		return model.ServerTarget{}, status.WithDetail(status.ErrUnknownServer, serverID, "")
	}
	return target, nil
}

// ListTargets lists the registered servers, sorted by identifier
func (x *Index) ListTargets(_ context.Context) []model.ServerTarget {
	x.mu.RLock()
	defer x.mu.RUnlock()

	targets := make([]model.ServerTarget, 0, len(x.targets))
	for _, target := range x.targets {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ServerID < targets[j].ServerID })
	return targets
}

// CommitDeploy records the snapshot deployed on a server.
//
// The snapshot must belong to the history of this server.
func (x *Index) CommitDeploy(_ context.Context, serverID, snapshotID string, at time.Time) (model.ServerTarget, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	target, ok := x.targets[serverID]
	if !ok {
		return model.ServerTarget{}, status.WithDetail(status.ErrUnknownServer, serverID, snapshotID)
	}
	if !x.inHistory(serverID, snapshotID) {
		return model.ServerTarget{}, status.WithDetail(status.ErrNotInHistory, serverID, snapshotID)
	}

	target.Deployed = snapshotID
	target.DeployedAt = at
	if err := x.saveTarget(target); err != nil {
		return model.ServerTarget{}, status.WithDetail(err, serverID, snapshotID)
	}
	return target, nil
}

// saveTarget persists then updates a target: callers hold the lock
func (x *Index) saveTarget(target model.ServerTarget) error {
	value, err := json.Marshal(target)
	if err != nil {
		return err
	}
	if err := x.kv.Commit(map[string][]byte{targetKey(target.ServerID): value}, nil); err != nil {
		return err
	}
	x.targets[target.ServerID] = target
	return nil
}
