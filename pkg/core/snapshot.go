package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewSnapshot describes a snapshot to append to the history of a server
type NewSnapshot struct {
	ServerID string
	Parent   string // expected current head, empty for the first snapshot of a server
	Author   string
	Message  string
	Kind     model.Kind // full or incremental
	Files    model.Tree
}

func (n NewSnapshot) validate() error {
	if err := ValidateServerID(n.ServerID); err != nil {
		return err
	}
	switch n.Kind {
	case model.KindFull:
	case model.KindIncremental:
		if n.Parent == "" {
			return status.ErrInvalidSnapshot.Wrapf("an incremental snapshot requires a parent")
		}
	default:
		return status.ErrInvalidSnapshot.Wrapf(fmt.Sprintf("unsupported snapshot kind %q", n.Kind))
	}
	if err := n.Files.Validate(); err != nil {
		return status.ErrInvalidSnapshot.Wrap(err)
	}
	return nil
}

// CreateSnapshot stores the payloads of a file tree and appends a new snapshot to the history of a server.
//
// The append fails with status.ErrParentMismatch whenever Parent is not the head of the history at
// the time of the append. Nothing is appended on failure: blobs already written are left to garbage collection.
//
// An incremental snapshot records only the entries that differ from its parent, plus tombstones
// for the files removed since.
func (x *Index) CreateSnapshot(ctx context.Context, req NewSnapshot) (model.Snapshot, error) {
	if err := req.validate(); err != nil {
		return model.Snapshot{}, status.WithDetail(err, req.ServerID, req.Parent)
	}

	x.gcMu.RLock()
	defer x.gcMu.RUnlock()

	entries, err := x.putFiles(ctx, req.Files)
	if err != nil {
		return model.Snapshot{}, status.WithDetail(err, req.ServerID, "")
	}

	snapshot := model.Snapshot{
		ServerID:  req.ServerID,
		ParentID:  req.Parent,
		Kind:      req.Kind,
		TreeHash:  model.Entries(entries).Hash(),
		Timestamp: x.clock.Now(),
		Author:    req.Author,
		Message:   req.Message,
		FileCount: len(entries),
		Entries:   entries,
	}
	for _, entry := range entries {
		snapshot.TreeSize += entry.Size
	}
	snapshot.ID = model.SnapshotID(snapshot.TreeHash, snapshot.ServerID, snapshot.ParentID)

	if req.Kind == model.KindIncremental {
		parentEntries, err := x.resolveEntries(req.Parent)
		if errors.Is(err, status.ErrNotFound) {
			err = status.ErrParentMismatch.Wrap(err)
		}
		if err != nil {
			return model.Snapshot{}, status.WithDetail(err, req.ServerID, req.Parent)
		}
		snapshot.Entries = delta(parentEntries, entries)
	}

	if err := x.append(&snapshot); err != nil {
		return model.Snapshot{}, status.WithDetail(err, req.ServerID, req.Parent)
	}

	x.m.SnapshotCreated(string(snapshot.Kind))
	x.l.Info("snapshot created",
		zap.String("server", snapshot.ServerID),
		zap.String("snapshot", snapshot.ID),
		zap.String("parent", snapshot.ParentID),
		zap.String("kind", string(snapshot.Kind)),
		zap.Int("entries", len(snapshot.Entries)),
	)
	return cloneSnapshot(&snapshot), nil
}

// append checks the parent and appends a record as one atomic step
func (x *Index) append(snapshot *model.Snapshot) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var headID string
	if head, ok := x.head(snapshot.ServerID); ok {
		headID = head.ID
	}
	if headID != snapshot.ParentID {
		return status.ErrParentMismatch.Wrapf(fmt.Sprintf("expected parent %q, current head is %q", snapshot.ParentID, headID))
	}
	if _, exists := x.byID[snapshot.ID]; exists {
		return status.ErrInvalidSnapshot.Wrapf("snapshot " + snapshot.ID + " already recorded")
	}

	snapshot.Sequence = x.sequences[snapshot.ServerID] + 1
	record, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	sets := map[string][]byte{
		histKey(snapshot.ServerID, snapshot.Sequence): record,
		snapKey(snapshot.ID):                          []byte(histKey(snapshot.ServerID, snapshot.Sequence)),
	}

	_, registered := x.targets[snapshot.ServerID]
	target := model.ServerTarget{ServerID: snapshot.ServerID}
	if !registered {
		if sets[targetKey(snapshot.ServerID)], err = json.Marshal(target); err != nil {
			return err
		}
	}

	if err := x.kv.Commit(sets, nil); err != nil {
		return err
	}

	stored := cloneSnapshot(snapshot)
	x.appendRecord(&stored)
	if !registered {
		x.targets[snapshot.ServerID] = target
	}
	return nil
}

// putFiles writes the payloads of a tree to the content store and returns the sorted entries
func (x *Index) putFiles(ctx context.Context, files model.Tree) ([]model.FileEntry, error) {
	entries := make([]model.FileEntry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)

	for i := range files {
		i := i
		file := files[i]
		entries[i] = model.FileEntry{
			Path:       file.Path,
			Mode:       file.Mode,
			LinkTarget: file.LinkTarget,
		}
		if file.Mode.IsSymlink() {
			continue
		}
		g.Go(func() error {
			res, err := x.blobs.Put(gctx, file.Payload)
			if err != nil {
				return fmt.Errorf("storing %q: %w", file.Path, err)
			}
			entries[i].Hash = res.Key.String()
			entries[i].Size = uint64(len(file.Payload))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Sort(model.Entries(entries))
	return entries, nil
}

// delta computes the entries of an incremental snapshot over its parent's materialized entries
func delta(parent, current []model.FileEntry) []model.FileEntry {
	before := make(map[string]model.FileEntry, len(parent))
	for _, entry := range parent {
		before[entry.Path] = entry
	}

	changed := make([]model.FileEntry, 0)
	seen := make(map[string]struct{}, len(current))
	for _, entry := range current {
		seen[entry.Path] = struct{}{}
		if previous, ok := before[entry.Path]; ok && previous.SameContent(entry) {
			continue
		}
		changed = append(changed, entry)
	}
	for _, entry := range parent {
		if _, ok := seen[entry.Path]; !ok {
			changed = append(changed, model.FileEntry{Path: entry.Path, Deleted: true})
		}
	}

	sort.Sort(model.Entries(changed))
	return changed
}

// TreeHash computes the tree hash a snapshot of some files would record, without storing anything
func TreeHash(files model.Tree) string {
	entries := make(model.Entries, 0, len(files))
	for _, file := range files {
		entry := model.FileEntry{
			Path:       file.Path,
			Mode:       file.Mode,
			LinkTarget: file.LinkTarget,
		}
		if !file.Mode.IsSymlink() {
			entry.Hash = cafs.Sum(file.Payload).String()
		}
		entries = append(entries, entry)
	}
	return entries.Hash()
}
