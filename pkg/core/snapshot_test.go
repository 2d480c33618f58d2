package core

import (
	"context"
	"sync"
	"testing"

	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/fakes"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSnapshot(t *testing.T) {
	ctx := context.Background()
	x, clock := newTestIndex(t)

	t.Run("should create a first full snapshot", func(t *testing.T) {
		a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1"))
		assert.Empty(t, a.ParentID)
		assert.Equal(t, uint64(1), a.Sequence)
		assert.Equal(t, epoch, a.Timestamp)
		assert.Equal(t, 1, a.FileCount)
		assert.Equal(t, uint64(2), a.TreeSize)
		assert.Equal(t, "tester", a.Author)
		require.Len(t, a.Entries, 1)

		head, ok := x.Head(ctx, "s1")
		require.True(t, ok)
		assert.Equal(t, a.ID, head.ID)

		target, err := x.GetTarget(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, target.Deployed)
	})

	t.Run("should record only changes in incremental snapshots", func(t *testing.T) {
		clock.Advance(1)
		head, _ := x.Head(ctx, "s1")
		b := commit(t, x, "s1", model.KindIncremental, fakes.Files("config.cfg", "v1", "motd.txt", "hi"))
		assert.Equal(t, head.ID, b.ParentID)
		assert.Equal(t, uint64(2), b.Sequence)
		assert.Equal(t, 2, b.FileCount)
		require.Len(t, b.Entries, 1)
		assert.Equal(t, "motd.txt", b.Entries[0].Path)

		c := commit(t, x, "s1", model.KindIncremental, fakes.Files("motd.txt", "hi"))
		require.Len(t, c.Entries, 1)
		assert.Equal(t, "config.cfg", c.Entries[0].Path)
		assert.True(t, c.Entries[0].Deleted)
	})

	t.Run("should list history newest first", func(t *testing.T) {
		history := x.ListHistory(ctx, "s1")
		require.Len(t, history, 3)
		for i := 1; i < len(history); i++ {
			assert.Equal(t, history[i].ID, history[i-1].ParentID)
			assert.Greater(t, history[i-1].Sequence, history[i].Sequence)
		}
		assert.Empty(t, x.ListHistory(ctx, "nowhere"))
	})

	t.Run("should reject a stale parent", func(t *testing.T) {
		history := x.ListHistory(ctx, "s1")
		_, err := x.CreateSnapshot(ctx, NewSnapshot{
			ServerID: "s1",
			Parent:   history[1].ID,
			Kind:     model.KindFull,
			Files:    fakes.Files("config.cfg", "v3"),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrParentMismatch))
		assert.Contains(t, err.Error(), "server=s1")
		assert.Len(t, x.ListHistory(ctx, "s1"), 3)

		_, err = x.CreateSnapshot(ctx, NewSnapshot{
			ServerID: "s1",
			Kind:     model.KindFull,
			Files:    fakes.Files("config.cfg", "v3"),
		})
		assert.True(t, errors.Is(err, status.ErrParentMismatch))

		_, err = x.CreateSnapshot(ctx, NewSnapshot{
			ServerID: "s1",
			Parent:   "0000",
			Kind:     model.KindIncremental,
			Files:    fakes.Files("config.cfg", "v3"),
		})
		assert.True(t, errors.Is(err, status.ErrParentMismatch))
	})

	t.Run("should reject invalid requests", func(t *testing.T) {
		for _, req := range []NewSnapshot{
			{ServerID: "", Kind: model.KindFull},
			{ServerID: "a/b", Kind: model.KindFull},
			{ServerID: "s2", Kind: model.KindIncremental},
			{ServerID: "s2", Kind: "weird"},
			{ServerID: "s2", Kind: model.KindFull, Files: model.Tree{{Path: "/etc/passwd"}}},
			{ServerID: "s2", Kind: model.KindFull, Files: model.Tree{{Path: "a"}, {Path: "a"}}},
		} {
			_, err := x.CreateSnapshot(ctx, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrInvalidSnapshot), "unexpected error: %v", err)
		}
		assert.Empty(t, x.ListHistory(ctx, "s2"))
	})
}

func TestCreateSnapshotConcurrentParent(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)
	base := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v0"))

	for round := 0; round < 10; round++ {
		head, _ := x.Head(ctx, "s1")
		if round == 0 {
			require.Equal(t, base.ID, head.ID)
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = x.CreateSnapshot(ctx, NewSnapshot{
					ServerID: "s1",
					Parent:   head.ID,
					Kind:     model.KindIncremental,
					Files:    fakes.Files("config.cfg", "v0", "worker.txt", string(rune('a'+i))),
				})
			}(i)
		}
		wg.Wait()

		var succeeded, mismatched int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, status.ErrParentMismatch):
				mismatched++
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, mismatched)
	}
	assert.Len(t, x.ListHistory(ctx, "s1"), 11)
}

func TestResolveID(t *testing.T) {
	x, _ := newTestIndex(t)
	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1"))

	id, err := x.ResolveID(a.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	id, err = x.ResolveID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	_, err = x.ResolveID("zz")
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = x.ResolveID("")
	assert.True(t, errors.Is(err, status.ErrNotFound))
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs := testBlobs(t)

	x, err := New(WithBlobs(blobs), WithKVPath(dir))
	require.NoError(t, err)

	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1"))
	b := commit(t, x, "s1", model.KindIncremental, fakes.Files("config.cfg", "v2"))
	_ = commit(t, x, "s2", model.KindFull, fakes.Files("server.properties", "pvp=true"))
	_, err = x.RegisterTarget(ctx, "s1", "local:/srv/s1")
	require.NoError(t, err)
	_, err = x.CommitDeploy(ctx, "s1", a.ID, epoch)
	require.NoError(t, err)
	require.NoError(t, x.Close())

	reopened, err := New(WithBlobs(blobs), WithKVPath(dir))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	history := reopened.ListHistory(ctx, "s1")
	require.Len(t, history, 2)
	assert.Equal(t, b.ID, history[0].ID)
	assert.Equal(t, a.ID, history[1].ID)
	assert.Equal(t, []string{"s1", "s2"}, reopened.Servers())

	target, err := reopened.GetTarget(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, target.Deployed)
	assert.Equal(t, "local:/srv/s1", target.Transport)

	tree, err := reopened.Materialize(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, tree.Equal(fakes.Files("config.cfg", "v2")))

	c := commit(t, reopened, "s1", model.KindIncremental, fakes.Files("config.cfg", "v3"))
	assert.Equal(t, uint64(3), c.Sequence)
}

func TestTreeHash(t *testing.T) {
	x, _ := newTestIndex(t)
	tree := fakes.Files("config.cfg", "v1", "motd.txt", "hi")
	a := commit(t, x, "s1", model.KindFull, tree)

	assert.Equal(t, a.TreeHash, TreeHash(tree))
	assert.Equal(t, a.TreeHash, TreeHash(model.Tree{tree[1], tree[0]}))
	assert.NotEqual(t, a.TreeHash, TreeHash(fakes.Files("config.cfg", "v2", "motd.txt", "hi")))
}

func TestSnapshotIdentity(t *testing.T) {
	x, _ := newTestIndex(t)
	tree := fakes.Files("config.cfg", "v1")
	a := commit(t, x, "s1", model.KindFull, tree)
	b := commit(t, x, "s2", model.KindFull, tree)

	t.Run("should address identical trees alike", func(t *testing.T) {
		assert.Equal(t, a.TreeHash, b.TreeHash)
	})

	t.Run("should keep distinct identifiers across lineages", func(t *testing.T) {
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, model.SnapshotID(a.TreeHash, "s1", ""), a.ID)
	})
}
