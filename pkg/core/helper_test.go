package core

import (
	"context"
	"testing"
	"time"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/fakes"
	"github.com/oneconcern/confmon/pkg/model"
	"github.com/oneconcern/confmon/pkg/storage/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testBlobs(t testing.TB) cafs.Fs {
	backend, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)
	blobs, err := cafs.New(cafs.Backend(backend))
	require.NoError(t, err)
	return blobs
}

func newTestIndex(t testing.TB, opts ...Option) (*Index, *fakes.Clock) {
	clock := fakes.NewClock(epoch)
	x, err := New(append([]Option{
		WithBlobs(testBlobs(t)),
		WithInMemory(true),
		WithClock(clock),
		WithLogger(zaptest.NewLogger(t)),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x, clock
}

// commit appends a snapshot on top of the current head
func commit(t testing.TB, x *Index, serverID string, kind model.Kind, files model.Tree) model.Snapshot {
	var parent string
	if head, ok := x.Head(context.Background(), serverID); ok {
		parent = head.ID
	}
	snapshot, err := x.CreateSnapshot(context.Background(), NewSnapshot{
		ServerID: serverID,
		Parent:   parent,
		Author:   "tester",
		Message:  "test commit",
		Kind:     kind,
		Files:    files,
	})
	require.NoError(t, err)
	return snapshot
}
