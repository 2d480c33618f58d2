package gcs

import (
	"go.uber.org/zap"
)

// Option is a functor to pass optional parameters to the gcs store
type Option func(*gcs)

// Logger specifies a logger for this store
func Logger(logger *zap.Logger) Option {
	return func(g *gcs) {
		if logger != nil {
			g.l = logger
		}
	}
}

// Prefix sets a key prefix for all objects of this store
func Prefix(prefix string) Option {
	return func(g *gcs) {
		g.prefix = prefix
	}
}

// CredentialsFile sets a service account credentials file
func CredentialsFile(credentialFile string) Option {
	return func(g *gcs) {
		g.credentialFile = credentialFile
	}
}
