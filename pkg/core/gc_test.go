package core

import (
	"context"
	"testing"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/fakes"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGC(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)

	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1", "shared.cfg", "same"))
	_ = commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v2", "shared.cfg", "same"))
	_ = commit(t, x, "s2", model.KindFull, fakes.Files("config.cfg", "v1"))

	orphan, err := x.Blobs().Put(ctx, []byte("never referenced"))
	require.NoError(t, err)

	t.Run("should refuse to delete referenced blobs", func(t *testing.T) {
		err := x.Blobs().Delete(ctx, cafs.Sum([]byte("same")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInUse))

		referenced, err := x.IsReferenced(ctx, cafs.Sum([]byte("v1")))
		require.NoError(t, err)
		assert.True(t, referenced)
	})

	t.Run("should sweep unreferenced blobs", func(t *testing.T) {
		res, err := x.GC(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Scanned)
		assert.Equal(t, []cafs.Key{orphan.Key}, res.Swept)
	})

	t.Run("should sweep blobs released by pruning", func(t *testing.T) {
		res, err := x.Prune(ctx, "s1", KeepLast(1))
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, res.Removed)

		// v1 is still referenced by s2
		gc, err := x.GC(ctx)
		require.NoError(t, err)
		assert.Empty(t, gc.Swept)

		_, err = x.Prune(ctx, "s2", KeepLast(1))
		require.NoError(t, err)

		has, err := x.Blobs().Has(ctx, cafs.Sum([]byte("v1")))
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestTargets(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestIndex(t)

	_, err := x.GetTarget(ctx, "s1")
	assert.True(t, errors.Is(err, status.ErrUnknownServer))

	target, err := x.RegisterTarget(ctx, "s1", "dir:/srv/s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", target.ServerID)

	_, err = x.RegisterTarget(ctx, "", "x")
	require.Error(t, err)

	a := commit(t, x, "s1", model.KindFull, fakes.Files("config.cfg", "v1"))
	other := commit(t, x, "s2", model.KindFull, fakes.Files("config.cfg", "v1"))

	_, err = x.CommitDeploy(ctx, "s1", other.ID, epoch)
	assert.True(t, errors.Is(err, status.ErrNotInHistory))

	_, err = x.CommitDeploy(ctx, "s3", a.ID, epoch)
	assert.True(t, errors.Is(err, status.ErrUnknownServer))

	target, err = x.CommitDeploy(ctx, "s1", a.ID, epoch)
	require.NoError(t, err)
	assert.Equal(t, a.ID, target.Deployed)
	assert.Equal(t, epoch, target.DeployedAt)

	target, err = x.RegisterTarget(ctx, "s1", "dir:/srv/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, a.ID, target.Deployed)

	targets := x.ListTargets(ctx)
	require.Len(t, targets, 2)
	assert.Equal(t, "s1", targets[0].ServerID)
	assert.Equal(t, "s2", targets[1].ServerID)
}
