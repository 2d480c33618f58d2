package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Materializer knows how to resolve snapshots into complete file trees
type Materializer interface {
	MaterializeEntries(context.Context, string) ([]model.FileEntry, error)
	Blob(context.Context, string) ([]byte, error)
}

var _ Materializer = &Index{}

// MaterializeEntries resolves the complete, sorted list of file entries of a snapshot
func (x *Index) MaterializeEntries(_ context.Context, id string) ([]model.FileEntry, error) {
	entries, err := x.resolveEntries(id)
	if err != nil {
		return nil, status.WithDetail(err, "", id)
	}
	return entries, nil
}

// resolveEntries walks the parent links of a snapshot back to the nearest full snapshot.
//
// The first entry found for a path wins: descendants override their ancestors.
// The walk is bounded by the size of the arena.
func (x *Index) resolveEntries(id string) ([]model.FileEntry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	resolved := make(map[string]model.FileEntry)
	current := id
	for steps := 0; steps <= len(x.records); steps++ {
		snapshot, ok := x.get(current)
		if !ok {
			if current == id {
				return nil, status.ErrNotFound.Wrapf("snapshot " + id)
			}
			return nil, status.ErrChainBroken.Wrapf(fmt.Sprintf("ancestor %s of snapshot %s is missing", current, id))
		}

		for _, entry := range snapshot.Entries {
			if _, found := resolved[entry.Path]; !found {
				resolved[entry.Path] = entry
			}
		}

		if snapshot.Kind == model.KindFull {
			return collect(resolved), nil
		}
		if snapshot.ParentID == "" {
			return nil, status.ErrChainBroken.Wrapf(fmt.Sprintf("incremental snapshot %s has no parent", current))
		}
		current = snapshot.ParentID
	}

	return nil, status.ErrChainBroken.Wrapf("cycle detected in the ancestry of snapshot " + id)
}

func collect(resolved map[string]model.FileEntry) []model.FileEntry {
	entries := make([]model.FileEntry, 0, len(resolved))
	for _, entry := range resolved {
		if entry.Deleted {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Sort(model.Entries(entries))
	return entries
}

// Materialize resolves a snapshot into its complete file tree, sorted by path
func (x *Index) Materialize(ctx context.Context, id string) (model.Tree, error) {
	entries, err := x.MaterializeEntries(ctx, id)
	if err != nil {
		return nil, err
	}

	tree := make(model.Tree, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		tree[i] = model.File{
			Path:       entry.Path,
			Mode:       entry.Mode,
			LinkTarget: entry.LinkTarget,
		}
		if entry.Mode.IsSymlink() {
			continue
		}
		g.Go(func() error {
			payload, err := x.Blob(gctx, entry.Hash)
			if err != nil {
				return fmt.Errorf("materializing %q: %w", entry.Path, err)
			}
			tree[i].Payload = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, status.WithDetail(err, "", id)
	}
	return tree, nil
}

// Blob fetches a verified payload from the content store.
//
// A blob missing from the store while referenced by a snapshot is reported as corrupted.
func (x *Index) Blob(ctx context.Context, hash string) ([]byte, error) {
	key, err := cafs.KeyFromString(hash)
	if err != nil {
		return nil, status.ErrCorrupted.Wrap(err)
	}
	payload, err := x.blobs.Get(ctx, key)
	if errors.Is(err, status.ErrNotFound) {
		return nil, status.ErrCorrupted.Wrap(err)
	}
	return payload, err
}
