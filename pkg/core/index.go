// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/model"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Index is the snapshot index: one append-only history of snapshots per server.
//
// Snapshot records live in an arena addressed by position. Histories and the identifier index
// refer to positions in the arena. A pruned record leaves a nil slot behind.
type Index struct {
	Settings

	mu        sync.RWMutex
	records   []*model.Snapshot
	byID      map[string]int
	histories map[string][]int
	sequences map[string]uint64
	targets   map[string]model.ServerTarget

	// gcMu keeps garbage collection away from blobs written by a snapshot not appended yet
	gcMu sync.RWMutex

	kv kvStore
}

var _ cafs.ReferenceChecker = &Index{}

// New snapshot index, loaded from its persistent store.
//
// The index registers itself as the reference checker of its content store.
func New(opts ...Option) (*Index, error) {
	settings := defaultSettings()
	for _, apply := range opts {
		apply(&settings)
	}

	if settings.blobs == nil {
		return nil, fmt.Errorf("a content store is required")
	}
	if !settings.inMemory && settings.kvPath == "" {
		return nil, fmt.Errorf("a path is required for a persistent index")
	}

	kv, err := makeKVBadger(settings.kvPath, settings.inMemory, settings.l)
	if err != nil {
		return nil, err
	}

	x := &Index{
		Settings:  settings,
		byID:      make(map[string]int),
		histories: make(map[string][]int),
		sequences: make(map[string]uint64),
		targets:   make(map[string]model.ServerTarget),
		kv:        kv,
	}

	if err := x.load(); err != nil {
		_ = kv.Close()
		return nil, err
	}

	x.blobs.SetReferenceChecker(x)
	x.l.Info("snapshot index loaded",
		zap.Int("snapshots", len(x.byID)),
		zap.Int("servers", len(x.histories)),
		zap.Int("targets", len(x.targets)),
	)
	return x, nil
}

// load the persisted records: histories are scanned in (server, sequence) order
func (x *Index) load() error {
	err := x.kv.Scan([]byte(histPrefix), func(_, value []byte) error {
		var snapshot model.Snapshot
		if err := json.Unmarshal(value, &snapshot); err != nil {
			return fmt.Errorf("unmarshal snapshot record: %w", err)
		}
		x.appendRecord(&snapshot)
		return nil
	})
	if err != nil {
		return err
	}

	return x.kv.Scan([]byte(targetPrefix), func(_, value []byte) error {
		var target model.ServerTarget
		if err := json.Unmarshal(value, &target); err != nil {
			return fmt.Errorf("unmarshal server target: %w", err)
		}
		x.targets[target.ServerID] = target
		return nil
	})
}

// appendRecord mutates the in-memory index: callers hold the lock
func (x *Index) appendRecord(snapshot *model.Snapshot) {
	x.records = append(x.records, snapshot)
	pos := len(x.records) - 1
	x.byID[snapshot.ID] = pos
	x.histories[snapshot.ServerID] = append(x.histories[snapshot.ServerID], pos)
	if snapshot.Sequence > x.sequences[snapshot.ServerID] {
		x.sequences[snapshot.ServerID] = snapshot.Sequence
	}
}

// Close the index
func (x *Index) Close() error {
	return x.kv.Close()
}

// Blobs returns the content store of this index
func (x *Index) Blobs() cafs.Fs {
	return x.blobs
}

// GetSnapshot returns a snapshot record
func (x *Index) GetSnapshot(_ context.Context, id string) (model.Snapshot, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	snapshot, ok := x.get(id)
	if !ok {
		return model.Snapshot{}, status.ErrNotFound.Wrapf("snapshot " + id)
	}
	return cloneSnapshot(snapshot), nil
}

func (x *Index) get(id string) (*model.Snapshot, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return nil, false
	}
	return x.records[pos], true
}

// ResolveID expands an unambiguous identifier prefix into a full snapshot identifier
func (x *Index) ResolveID(prefix string) (string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, ok := x.byID[prefix]; ok {
		return prefix, nil
	}
	var found []string
	for id := range x.byID {
		if prefix != "" && strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", status.ErrNotFound.Wrapf("snapshot " + prefix)
	case 1:
		return found[0], nil
	default:
		return "", status.ErrInvalidSnapshot.Wrapf(fmt.Sprintf("ambiguous snapshot prefix %q matches %d snapshots", prefix, len(found)))
	}
}

// ListHistory returns the snapshots of a server, newest first
func (x *Index) ListHistory(_ context.Context, serverID string) []model.Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()

	history := x.histories[serverID]
	res := make([]model.Snapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		res = append(res, cloneSnapshot(x.records[history[i]]))
	}
	return res
}

// Head returns the latest snapshot of a server
func (x *Index) Head(_ context.Context, serverID string) (model.Snapshot, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	head, ok := x.head(serverID)
	if !ok {
		return model.Snapshot{}, false
	}
	return cloneSnapshot(head), true
}

func (x *Index) head(serverID string) (*model.Snapshot, bool) {
	history := x.histories[serverID]
	if len(history) == 0 {
		return nil, false
	}
	return x.records[history[len(history)-1]], true
}

// LastFull returns the latest full snapshot of a server
func (x *Index) LastFull(_ context.Context, serverID string) (model.Snapshot, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	history := x.histories[serverID]
	for i := len(history) - 1; i >= 0; i-- {
		if snapshot := x.records[history[i]]; snapshot.Kind == model.KindFull {
			return cloneSnapshot(snapshot), true
		}
	}
	return model.Snapshot{}, false
}

// InHistory tells if a snapshot belongs to the history of a server
func (x *Index) InHistory(serverID, id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.inHistory(serverID, id)
}

func (x *Index) inHistory(serverID, id string) bool {
	snapshot, ok := x.get(id)
	return ok && snapshot.ServerID == serverID
}

// Servers lists the servers with a history, in lexicographic order
func (x *Index) Servers() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	servers := make([]string, 0, len(x.histories))
	for server, history := range x.histories {
		if len(history) > 0 {
			servers = append(servers, server)
		}
	}
	sort.Strings(servers)
	return servers
}

func cloneSnapshot(snapshot *model.Snapshot) model.Snapshot {
	res := *snapshot
	if snapshot.Entries != nil {
		res.Entries = make([]model.FileEntry, len(snapshot.Entries))
		copy(res.Entries, snapshot.Entries)
	}
	return res
}

// ValidateServerID checks that a server identifier may be used as a key
func ValidateServerID(serverID string) error {
	switch {
	case serverID == "":
		return status.ErrInvalidSnapshot.Wrapf("empty server identifier")
	case strings.ContainsAny(serverID, "/\x00"):
		return status.ErrInvalidSnapshot.Wrapf(fmt.Sprintf("invalid server identifier %q", serverID))
	}
	return nil
}
