package core

import (
	"context"
	"os"
	"testing"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/fakes"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)

	steps := []model.Tree{
		fakes.Files("config.cfg", "v1", "maps/de_dust2.cfg", "rounds=30", "motd.txt", "welcome"),
		fakes.Files("config.cfg", "v2", "maps/de_dust2.cfg", "rounds=30", "motd.txt", "welcome"),
		fakes.Files("config.cfg", "v2", "maps/de_dust2.cfg", "rounds=16"),
		fakes.Files("config.cfg", "v2", "maps/de_dust2.cfg", "rounds=16", "motd.txt", "back again"),
	}
	link := model.File{Path: "current.cfg", Mode: model.FileMode(os.ModeSymlink | 0777), LinkTarget: "config.cfg"}
	steps = append(steps, append(steps[3], link).Sorted())

	var last model.Snapshot
	for i, tree := range steps {
		kind := model.KindIncremental
		if i == 0 {
			kind = model.KindFull
		}
		last = commit(t, x, "s1", kind, tree)

		materialized, err := x.Materialize(ctx, last.ID)
		require.NoError(t, err)
		assert.Truef(t, materialized.Equal(tree), "step %d: mismatched paths %v", i, materialized.Compare(tree))
	}

	t.Run("should be equivalent to a full snapshot of the same tree", func(t *testing.T) {
		full := commit(t, x, "s2", model.KindFull, steps[len(steps)-1])

		fromChain, err := x.Materialize(ctx, last.ID)
		require.NoError(t, err)
		fromFull, err := x.Materialize(ctx, full.ID)
		require.NoError(t, err)

		assert.Equal(t, fromFull, fromChain)
		assert.Equal(t, full.TreeHash, last.TreeHash)
		assert.NotEqual(t, full.ID, last.ID)
	})

	t.Run("should sort materialized trees", func(t *testing.T) {
		tree, err := x.Materialize(ctx, last.ID)
		require.NoError(t, err)
		for i := 1; i < len(tree); i++ {
			assert.Less(t, tree[i-1].Path, tree[i].Path)
		}
		for _, file := range tree {
			if file.Path == "current.cfg" {
				assert.True(t, file.Mode.IsSymlink())
				assert.Equal(t, "config.cfg", file.LinkTarget)
				assert.Empty(t, file.Payload)
			}
		}
	})

	t.Run("should report missing snapshots", func(t *testing.T) {
		_, err := x.Materialize(ctx, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrNotFound))
	})
}

func TestMaterializeChainBroken(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)

	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1"))
	b := commit(t, x, "s1", model.KindIncremental, fakes.Files("config.cfg", "v2"))

	// simulate a lost ancestor
	x.mu.Lock()
	delete(x.byID, a.ID)
	x.mu.Unlock()

	_, err := x.Materialize(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrChainBroken))
	assert.False(t, status.IsRetriable(err))
	assert.Contains(t, err.Error(), b.ID)
}

func TestMaterializeUnchangedResnapshot(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)

	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1", "motd.txt", "hi"))
	tree, err := x.Materialize(ctx, a.ID)
	require.NoError(t, err)

	b := commit(t, x, "s1", model.KindIncremental, tree)
	assert.Empty(t, b.Entries)
	assert.Equal(t, a.TreeHash, b.TreeHash)
	assert.NotEqual(t, a.ID, b.ID)

	d, err := Diff(ctx, x, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, d.Files, 2)
	for _, file := range d.Files {
		assert.Equal(t, DiffUnchanged, file.Status)
	}
	assert.Empty(t, d.Changed())
}
