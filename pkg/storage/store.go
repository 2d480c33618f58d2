// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"

	"github.com/oneconcern/confmon/pkg/storage/status"
)

// MaxObjectSizeInMemory caps the size of objects read at once
const MaxObjectSizeInMemory = 512 * 1024 * 1024

const (
	// NoOverWrite fails a Put on an existing key with status.ErrExists
	NoOverWrite = true

	// OverWrite replaces existing objects
	OverWrite = false
)

// Store implementations know how to write objects to a K/V backend.
//
// Typically this is something file system-like. Examples are S3, local FS, NFS, ...
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// ReadAll reads an object from a store, up to MaxObjectSizeInMemory bytes
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	rdr, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rdr.Close()
	}()

	buf, err := io.ReadAll(io.LimitReader(rdr, MaxObjectSizeInMemory+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxObjectSizeInMemory {
		return nil, status.ErrObjectTooBig.Wrapf(key)
	}
	return buf, nil
}
