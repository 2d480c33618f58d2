// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/storage"
	"github.com/oneconcern/confmon/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t testing.TB) storage.Store {
	fs := afero.NewMemMapFs()
	bs, err := New(fs)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bs.Put(ctx, "sixteentons", bytes.NewBufferString("this is the text"), storage.NoOverWrite))
	require.NoError(t, bs.Put(ctx, "blobs/ab/seventeentons", bytes.NewBufferString("this is the text for another thing"), storage.NoOverWrite))
	return bs
}

func TestHas(t *testing.T) {
	bs := setupStore(t)

	has, err := bs.Has(context.Background(), "sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "blobs/ab/seventeentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "fifteentons")
	require.NoError(t, err)
	require.False(t, has)

	_, err = bs.Has(context.Background(), ".put-stage/x")
	require.Error(t, err)
	require.True(t, errors.Is(err, status.ErrInvalidResource))
}

func TestGet(t *testing.T) {
	bs := setupStore(t)

	b, err := storage.ReadAll(context.Background(), bs, "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text", string(b))

	rdr, err := bs.Get(context.Background(), "blobs/ab/seventeentons")
	require.NoError(t, err)
	b, err = io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "this is the text for another thing", string(b))

	_, err = bs.Get(context.Background(), "fifteentons")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestKeys(t *testing.T) {
	bs := setupStore(t)

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sixteentons", "blobs/ab/seventeentons"}, keys)
}

func TestDelete(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Delete(context.Background(), "blobs/ab/seventeentons"))
	require.NoError(t, bs.Delete(context.Background(), "blobs/ab/seventeentons"), "delete should be idempotent")
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)
}

func TestClear(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)

	require.NoError(t, bs.Put(context.Background(), "after", bytes.NewBufferString("x"), storage.NoOverWrite))
}

func TestPut(t *testing.T) {
	bs := setupStore(t)
	ctx := context.Background()

	t.Run("should refuse to overwrite in exclusive mode", func(t *testing.T) {
		err := bs.Put(ctx, "sixteentons", bytes.NewBufferString("other"), storage.NoOverWrite)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrExists))
	})

	t.Run("should overwrite", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "sixteentons", bytes.NewBufferString("other"), storage.OverWrite))
		b, err := storage.ReadAll(ctx, bs, "sixteentons")
		require.NoError(t, err)
		assert.Equal(t, "other", string(b))
	})

	t.Run("should put concurrently", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, bs.Put(ctx, "concurrent/"+strconv.Itoa(i%4), bytes.NewBufferString("same"), storage.OverWrite))
			}(i)
		}
		wg.Wait()

		keys, err := bs.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 6)
	})
}

func TestString(t *testing.T) {
	bs, err := New(afero.NewBasePathFs(afero.NewMemMapFs(), "/blobs"))
	require.NoError(t, err)
	assert.Contains(t, bs.String(), "localfs@")
}
