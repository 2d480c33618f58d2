package cafs

import (
	"context"
	"sync"
	"testing"

	"github.com/oneconcern/confmon/pkg/storage"
	"github.com/oneconcern/confmon/pkg/storage/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t testing.TB, opts ...Option) (Fs, storage.Store) {
	blobs, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)

	fs, err := New(append([]Option{Backend(blobs)}, opts...)...)
	require.NoError(t, err)

	return fs, blobs
}

type mockChecker struct {
	mx         sync.Mutex
	referenced map[Key]bool
}

func (m *mockChecker) IsReferenced(_ context.Context, key Key) (bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.referenced[key], nil
}

func (m *mockChecker) set(key Key, referenced bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.referenced == nil {
		m.referenced = make(map[Key]bool)
	}
	m.referenced[key] = referenced
}
