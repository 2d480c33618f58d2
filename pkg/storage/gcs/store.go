// Copyright © 2018 One Concern

// Package gcs implements a storage.Store backed by a Google Cloud Storage bucket
package gcs

import (
	"context"
	"io"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/storage"
	"github.com/oneconcern/confmon/pkg/storage/status"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type gcs struct {
	client         *gcsStorage.Client
	bucket         string
	prefix         string
	credentialFile string
	l              *zap.Logger
}

// New GCS store
func New(ctx context.Context, bucket string, opts ...Option) (storage.Store, error) {
	googleStore := &gcs{
		bucket: bucket,
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(googleStore)
	}
	if bucket == "" {
		return nil, status.ErrInvalidResource.Wrapf("a GCS bucket is required")
	}

	clientOpts := []option.ClientOption{option.WithScopes(gcsStorage.ScopeReadWrite)}
	if googleStore.credentialFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(googleStore.credentialFile))
	}
	var err error
	googleStore.client, err = gcsStorage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return googleStore, nil
}

func (g *gcs) object(key string) *gcsStorage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key)
}

func (g *gcs) String() string {
	return "gcs://" + g.bucket + "/" + g.prefix
}

func (g *gcs) Has(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if err != nil {
		err = toSentinelErrors(err)
		if errors.Is(err, status.ErrNotExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *gcs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectReader, err := g.object(key).NewReader(ctx)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return objectReader, nil
}

// Put uploads an object. Exclusive puts are conditioned on the object not existing yet.
func (g *gcs) Put(ctx context.Context, key string, reader io.Reader, exclusive bool) error {
	obj := g.object(key)
	if exclusive {
		obj = obj.If(gcsStorage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Close()
		return toSentinelErrors(err)
	}
	return toSentinelErrors(writer.Close())
}

func (g *gcs) Delete(ctx context.Context, key string) error {
	err := toSentinelErrors(g.object(key).Delete(ctx))
	if errors.Is(err, status.ErrNotExists) {
		return nil
	}
	return err
}

func (g *gcs) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	objectsIterator := g.client.Bucket(g.bucket).Objects(ctx, &gcsStorage.Query{Prefix: g.prefix})
	for {
		attrs, err := objectsIterator.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, toSentinelErrors(err)
		}
		keys = append(keys, attrs.Name[len(g.prefix):])
	}
	g.l.Debug("listed keys", zap.String("store", g.String()), zap.Int("count", len(keys)))
	return keys, nil
}

func (g *gcs) Clear(ctx context.Context) error {
	keys, err := g.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := g.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
