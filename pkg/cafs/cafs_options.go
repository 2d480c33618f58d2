package cafs

import (
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/storage"
	"go.uber.org/zap"
)

// Option to configure content addressable FS components
type Option func(*defaultFs)

// Backend specifies the backend store
func Backend(store storage.Store) Option {
	return func(w *defaultFs) {
		w.store = store
	}
}

// Prefix sets a prefix on keys
func Prefix(prefix string) Option {
	return func(w *defaultFs) {
		w.prefix = prefix
	}
}

// Logger sets a logger for this store
func Logger(l *zap.Logger) Option {
	return func(w *defaultFs) {
		if l != nil {
			w.l = l
		}
	}
}

// CacheSize sets the number of verified payloads kept in memory
func CacheSize(entries int) Option {
	return func(w *defaultFs) {
		if entries > 0 {
			w.cacheSize = entries
		}
	}
}

// VerifyDedup compares the stored payload when a put finds an existing key
func VerifyDedup(enabled bool) Option {
	return func(w *defaultFs) {
		w.verifyDedup = enabled
	}
}

// VerifyConcurrency sets the number of blobs checked in parallel by Verify
func VerifyConcurrency(n int) Option {
	return func(w *defaultFs) {
		if n > 0 {
			w.verifyConcurrency = n
		}
	}
}

// WithMetrics enables metrics collection
func WithMetrics(m *metrics.M) Option {
	return func(w *defaultFs) {
		w.m = m
	}
}

// WithReferenceChecker sets the live reference checker consulted on delete
func WithReferenceChecker(checker ReferenceChecker) Option {
	return func(w *defaultFs) {
		w.checker = checker
	}
}
