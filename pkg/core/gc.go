package core

import (
	"context"

	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"go.uber.org/zap"
)

// GCResult reports the outcome of a garbage collection
type GCResult struct {
	Scanned int
	Swept   []cafs.Key
	InUse   int // blobs found referenced again at delete time
}

// GC removes the blobs no live snapshot references.
//
// Snapshot creation is held off during the collection.
func (x *Index) GC(ctx context.Context) (GCResult, error) {
	x.gcMu.Lock()
	defer x.gcMu.Unlock()

	live := x.liveHashes()
	keys, err := x.blobs.Keys(ctx)
	if err != nil {
		return GCResult{}, err
	}

	result := GCResult{Scanned: len(keys)}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, ok := live[key.String()]; ok {
			continue
		}

		err := x.blobs.Delete(ctx, key)
		switch {
		case err == nil:
			result.Swept = append(result.Swept, key)
		case errors.Is(err, status.ErrInUse):
			result.InUse++
		case errors.Is(err, status.ErrNotFound):
		default:
			return result, err
		}
	}

	x.m.BlobsSwept(len(result.Swept))
	x.l.Info("garbage collection complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("swept", len(result.Swept)),
		zap.Int("in_use", result.InUse),
	)
	return result, nil
}

func (x *Index) liveHashes() map[string]struct{} {
	x.mu.RLock()
	defer x.mu.RUnlock()

	live := make(map[string]struct{})
	for _, snapshot := range x.records {
		if snapshot == nil {
			continue
		}
		for _, entry := range snapshot.Entries {
			if entry.Hash != "" && !entry.Deleted {
				live[entry.Hash] = struct{}{}
			}
		}
	}
	return live
}

// IsReferenced tells if a live snapshot references a blob
func (x *Index) IsReferenced(_ context.Context, key cafs.Key) (bool, error) {
	hash := key.String()

	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, snapshot := range x.records {
		if snapshot == nil {
			continue
		}
		for _, entry := range snapshot.Entries {
			if entry.Hash == hash && !entry.Deleted {
				return true, nil
			}
		}
	}
	return false, nil
}
