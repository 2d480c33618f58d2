package core

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/oneconcern/confmon/pkg/errors"
	"go.uber.org/zap"
)

type (
	// kvBadger provides a KV store implementation based on dgraph-io/badger/v4
	kvBadger struct {
		*badger.DB
	}

	badgerLogger struct {
		l *zap.SugaredLogger
	}
)

var _ kvStore = &kvBadger{}

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.l.Errorf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.l.Warnf(format, args...) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.l.Debugf(format, args...) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.l.Debugf(format, args...) }

func (kv *kvBadger) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return kv.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iterator := txn.NewIterator(opts)
		defer iterator.Close()

		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			item := iterator.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(value []byte) error {
				return fn(key, value)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (kv *kvBadger) Commit(sets map[string][]byte, deletes []string) error {
	return backoff.Retry(func() error {
		err := kv.DB.Update(func(txn *badger.Txn) error {
			for key, value := range sets {
				if e := txn.Set([]byte(key), value); e != nil {
					return e
				}
			}
			for _, key := range deletes {
				if e := txn.Delete([]byte(key)); e != nil {
					return e
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 10),
	)
}

func makeKVBadger(pth string, inMemory bool, l *zap.Logger) (*kvBadger, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(pth, 0700); err != nil {
			return nil, fmt.Errorf("makeKV: mkdir: %w", err)
		}
		opts = badger.DefaultOptions(pth).WithSyncWrites(true)
	}

	opts = opts.
		WithLogger(badgerLogger{l: l.Sugar()}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open KV: %w", err)
	}

	return &kvBadger{DB: db}, nil
}
