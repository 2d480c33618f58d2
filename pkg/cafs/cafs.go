package cafs

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oneconcern/confmon/pkg/core/status"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/storage"
	storagestatus "github.com/oneconcern/confmon/pkg/storage/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPrefix is the key namespace for blobs on the backend store
	DefaultPrefix = "blobs/"

	// DefaultCacheSize is the default number of verified payloads kept in memory
	DefaultCacheSize = 1024

	// DefaultVerifyConcurrency is the default number of blobs checked in parallel by Verify
	DefaultVerifyConcurrency = 8
)

// PutRes holds the result from a Put operation
type PutRes struct {
	Key     Key   // the hash of the written payload
	Written int64 // bytes written, zero when deduplicated
	Found   bool  // the key was already existing
}

// ReferenceChecker tells if some live record still references a blob
type ReferenceChecker interface {
	IsReferenced(context.Context, Key) (bool, error)
}

// Fs implementations provide content-addressable storage operations
type Fs interface {
	Put(context.Context, []byte) (PutRes, error)
	Get(context.Context, Key) ([]byte, error)
	Has(context.Context, Key) (bool, error)
	Delete(context.Context, Key) error
	Keys(context.Context) ([]Key, error)
	Verify(context.Context) ([]Key, error)
	SetReferenceChecker(ReferenceChecker)
	String() string
}

var _ Fs = &defaultFs{}

func defaultsForFs() *defaultFs {
	return &defaultFs{
		prefix:            DefaultPrefix,
		cacheSize:         DefaultCacheSize,
		verifyDedup:       true,
		verifyConcurrency: DefaultVerifyConcurrency,
		l:                 zap.NewNop(),
	}
}

// New creates a new instance of a content-addressable store
func New(opts ...Option) (Fs, error) {
	f := defaultsForFs()
	for _, apply := range opts {
		apply(f)
	}

	if f.store == nil {
		return nil, fmt.Errorf("a backend store is required")
	}

	var err error
	f.cache, err = lru.New[Key, []byte](f.cacheSize)
	if err != nil {
		return nil, err
	}

	return f, nil
}

type defaultFs struct {
	store  storage.Store
	prefix string
	l      *zap.Logger
	m      *metrics.M

	// verified payloads
	cache     *lru.Cache[Key, []byte]
	cacheSize int

	// concurrent puts of the same payload are collapsed into one write
	flight singleflight.Group

	checkerMx sync.RWMutex
	checker   ReferenceChecker

	verifyDedup       bool
	verifyConcurrency int
}

func (d *defaultFs) pather(k Key) string {
	return k.StringWithPrefix(d.prefix)
}

func (d *defaultFs) String() string {
	return "cafs@" + d.store.String()
}

// SetReferenceChecker sets the live reference checker consulted on delete
func (d *defaultFs) SetReferenceChecker(checker ReferenceChecker) {
	d.checkerMx.Lock()
	defer d.checkerMx.Unlock()
	d.checker = checker
}

// Put stores a payload if absent and returns its key.
//
// A payload already stored under the same key is compared byte for byte: a difference is reported
// as status.ErrCorrupted and the stored blob is left untouched.
func (d *defaultFs) Put(ctx context.Context, payload []byte) (PutRes, error) {
	key := Sum(payload)
	res, err, _ := d.flight.Do(key.String(), func() (interface{}, error) {
		return d.put(ctx, key, payload)
	})
	if err != nil {
		return PutRes{}, err
	}
	return res.(PutRes), nil
}

func (d *defaultFs) put(ctx context.Context, key Key, payload []byte) (PutRes, error) {
	l := d.l.With(zap.String("hash", key.String()))

	if cached, ok := d.cache.Get(key); ok {
		if !bytes.Equal(cached, payload) {
			d.m.BlobCorrupted()
			return PutRes{}, status.ErrCorrupted.Wrapf("hash collision on " + key.String())
		}
		d.m.BlobDeduped()
		return PutRes{Key: key, Found: true}, nil
	}

	has, err := d.store.Has(ctx, d.pather(key))
	if err != nil {
		return PutRes{}, err
	}
	if has {
		return d.dedup(ctx, key, payload)
	}

	err = d.store.Put(ctx, d.pather(key), bytes.NewReader(payload), storage.NoOverWrite)
	if errors.Is(err, storagestatus.ErrExists) {
		// another writer got there first
		l.Debug("blob written concurrently")
		return d.dedup(ctx, key, payload)
	}
	if err != nil {
		return PutRes{}, err
	}

	d.m.BlobWritten(len(payload))
	d.cache.Add(key, clone(payload))
	l.Debug("blob written", zap.Int("size", len(payload)))

	return PutRes{Key: key, Written: int64(len(payload))}, nil
}

func (d *defaultFs) dedup(ctx context.Context, key Key, payload []byte) (PutRes, error) {
	if d.verifyDedup {
		stored, err := d.Get(ctx, key)
		if err != nil {
			return PutRes{}, err
		}
		if !bytes.Equal(stored, payload) {
			d.m.BlobCorrupted()
			return PutRes{}, status.ErrCorrupted.Wrapf("hash collision on " + key.String())
		}
	}
	d.m.BlobDeduped()
	return PutRes{Key: key, Found: true}, nil
}

// Get a payload, verifying its hash
func (d *defaultFs) Get(ctx context.Context, key Key) ([]byte, error) {
	if cached, ok := d.cache.Get(key); ok {
		return clone(cached), nil
	}

	payload, err := d.read(ctx, key)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, payload)
	return clone(payload), nil
}

func (d *defaultFs) read(ctx context.Context, key Key) ([]byte, error) {
	payload, err := storage.ReadAll(ctx, d.store, d.pather(key))
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotExists) {
			return nil, status.ErrNotFound.Wrapf("blob " + key.String())
		}
		return nil, err
	}

	if Sum(payload) != key {
		d.m.BlobCorrupted()
		d.l.Error("blob integrity check failed", zap.String("hash", key.String()))
		return nil, status.ErrCorrupted.Wrapf("blob " + key.String())
	}
	return payload, nil
}

// Has tells if a blob is stored
func (d *defaultFs) Has(ctx context.Context, key Key) (bool, error) {
	if d.cache.Contains(key) {
		return true, nil
	}
	return d.store.Has(ctx, d.pather(key))
}

// Delete a blob.
//
// References are checked at the time of the call.
func (d *defaultFs) Delete(ctx context.Context, key Key) error {
	d.checkerMx.RLock()
	checker := d.checker
	d.checkerMx.RUnlock()

	if checker != nil {
		referenced, err := checker.IsReferenced(ctx, key)
		if err != nil {
			return err
		}
		if referenced {
			return status.ErrInUse.Wrapf("blob " + key.String())
		}
	}

	has, err := d.store.Has(ctx, d.pather(key))
	if err != nil {
		return err
	}
	if !has {
		return status.ErrNotFound.Wrapf("blob " + key.String())
	}

	d.cache.Remove(key)
	if err := d.store.Delete(ctx, d.pather(key)); err != nil {
		return err
	}
	d.m.BlobDeleted()
	d.l.Debug("blob deleted", zap.String("hash", key.String()))
	return nil
}

// Keys lists all blob keys, in lexicographic order
func (d *defaultFs) Keys(ctx context.Context) ([]Key, error) {
	storeKeys, err := d.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(storeKeys))
	for _, storeKey := range storeKeys {
		if !strings.HasPrefix(storeKey, d.prefix) {
			continue
		}
		idx := strings.LastIndex(storeKey, "/")
		k, err := KeyFromString(storeKey[idx+1:])
		if err != nil {
			d.l.Warn("ignoring unexpected object in blob namespace", zap.String("key", storeKey))
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys, nil
}

// Verify re-reads every stored blob and returns the keys of the corrupted ones
func (d *defaultFs) Verify(ctx context.Context) ([]Key, error) {
	keys, err := d.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mx        sync.Mutex
		corrupted []Key
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.verifyConcurrency)
	for _, toPin := range keys {
		key := toPin
		g.Go(func() error {
			_, err := d.read(gctx, key)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, status.ErrCorrupted):
				d.cache.Remove(key)
				mx.Lock()
				corrupted = append(corrupted, key)
				mx.Unlock()
				return nil
			case errors.Is(err, status.ErrNotFound):
				// deleted meanwhile
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(corrupted, func(i, j int) bool { return bytes.Compare(corrupted[i][:], corrupted[j][:]) < 0 })
	if len(corrupted) > 0 {
		d.l.Warn("corrupted blobs found", zap.Int("count", len(corrupted)))
	}
	return corrupted, nil
}

func clone(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
