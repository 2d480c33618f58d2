// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/oneconcern/confmon/pkg/storage"

// Instrument a store with tracing spans and debug logs.
//
// A nil tracer uses the global otel tracer provider.
func Instrument(tr trace.Tracer, l *zap.Logger, store Store) Store {
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedStore{
		tr:    tr,
		store: store,
		l:     l.With(zap.String("store", store.String())),
	}
}

type instrumentedStore struct {
	store Store
	tr    trace.Tracer
	l     *zap.Logger
}

func (i *instrumentedStore) opName(name string) string {
	return strings.Join([]string{"storage", name}, ".")
}

func (i *instrumentedStore) start(ctx context.Context, name string, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("store", i.store.String())}
	if key != "" {
		attrs = append(attrs, attribute.String("key", key))
	}
	return i.tr.Start(ctx, i.opName(name), trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (i *instrumentedStore) Has(ctx context.Context, key string) (has bool, err error) {
	ctx, span := i.start(ctx, "Has", key)
	defer func() { end(span, err) }()
	i.l.Debug("storage has", zap.String("key", key))

	return i.store.Has(ctx, key)
}

func (i *instrumentedStore) Get(ctx context.Context, key string) (rdr io.ReadCloser, err error) {
	ctx, span := i.start(ctx, "Get", key)
	defer func() { end(span, err) }()
	i.l.Debug("storage get", zap.String("key", key))

	return i.store.Get(ctx, key)
}

func (i *instrumentedStore) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) (err error) {
	ctx, span := i.start(ctx, "Put", key)
	span.SetAttributes(attribute.Bool("exclusive", exclusive))
	defer func() { end(span, err) }()
	i.l.Debug("storage put", zap.String("key", key), zap.Bool("exclusive", exclusive))

	return i.store.Put(ctx, key, rdr, exclusive)
}

func (i *instrumentedStore) Delete(ctx context.Context, key string) (err error) {
	ctx, span := i.start(ctx, "Delete", key)
	defer func() { end(span, err) }()
	i.l.Debug("storage delete", zap.String("key", key))

	return i.store.Delete(ctx, key)
}

func (i *instrumentedStore) Keys(ctx context.Context) (keys []string, err error) {
	ctx, span := i.start(ctx, "Keys", "")
	defer func() { end(span, err) }()
	i.l.Debug("storage keys")

	return i.store.Keys(ctx)
}

func (i *instrumentedStore) Clear(ctx context.Context) (err error) {
	ctx, span := i.start(ctx, "Clear", "")
	defer func() { end(span, err) }()
	i.l.Info("storage clear")

	return i.store.Clear(ctx)
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}
