package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/oneconcern/confmon/pkg/cafs"
	"github.com/oneconcern/confmon/pkg/dlogger"
	"github.com/oneconcern/confmon/pkg/engine"
	"github.com/oneconcern/confmon/pkg/events"
	"github.com/oneconcern/confmon/pkg/metrics"
	"github.com/oneconcern/confmon/pkg/storage"
	"github.com/oneconcern/confmon/pkg/storage/gcs"
	"github.com/oneconcern/confmon/pkg/storage/localfs"
	"github.com/oneconcern/confmon/pkg/storage/sthree"
	"github.com/oneconcern/confmon/pkg/transport/localdir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// app holds the components opened by a command
type app struct {
	runtime *engine.Runtime
	fleet   *localdir.Dir
	m       *metrics.M
	l       *zap.Logger

	shutdown []func(context.Context) error
	closed   sync.Once
}

// openApp assembles the runtime from the configuration.
//
// Metrics are registered to reg when not nil.
func openApp(ctx context.Context, cfg *Config, reg prometheus.Registerer) (*app, error) {
	l, err := dlogger.GetLoggerWithEncoding(cfg.LogLevel, dlogger.EncodingConsole)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &app{l: l, m: metrics.New(reg)}

	if cfg.TraceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		a.shutdown = append(a.shutdown, provider.Shutdown)
	}

	backend, err := openBlobBackend(ctx, cfg, l)
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}
	backend = storage.Instrument(otel.Tracer("github.com/oneconcern/confmon/pkg/storage"), l, backend)

	blobs, err := cafs.New(
		cafs.Backend(backend),
		cafs.Logger(l),
		cafs.CacheSize(cfg.Blob.CacheSize),
		cafs.WithMetrics(a.m),
	)
	if err != nil {
		return nil, fmt.Errorf("content store: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS != "" {
		nc, err := events.NewNATS(cfg.NATS, l)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		publisher = nc
	}

	if err := os.MkdirAll(cfg.FleetDir, 0o755); err != nil {
		return nil, fmt.Errorf("fleet directory: %w", err)
	}
	a.fleet = localdir.NewOS(cfg.FleetDir, localdir.Logger(l))

	a.runtime, err = engine.New(blobs, a.fleet, a.fleet,
		engine.WithKVPath(cfg.kvPath()),
		engine.WithConcurrency(cfg.Concurrency),
		engine.WithVerify(cfg.Verify),
		engine.WithTimeout(cfg.TransportTimeout),
		engine.WithRetries(cfg.Retries, cfg.BaseBackoff, cfg.MaxBackoff),
		engine.WithFullEvery(cfg.FullEvery),
		engine.WithEvents(publisher),
		engine.WithMetrics(a.m),
		engine.WithLogger(l),
		engine.WithTracer(otel.Tracer("github.com/oneconcern/confmon")),
	)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("opening the snapshot index: %w", err)
	}
	return a, nil
}

func openBlobBackend(ctx context.Context, cfg *Config, l *zap.Logger) (storage.Store, error) {
	switch cfg.Blob.Backend {
	case backendS3:
		awsConfig := aws.NewConfig()
		if cfg.Blob.Region != "" {
			awsConfig = awsConfig.WithRegion(cfg.Blob.Region)
		}
		if cfg.Blob.Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(cfg.Blob.Endpoint).WithS3ForcePathStyle(true)
		}
		return sthree.New(sthree.Bucket(cfg.Blob.Bucket), sthree.Prefix(cfg.Blob.Prefix), sthree.AWSConfig(awsConfig))
	case backendGCS:
		return gcs.New(ctx, cfg.Blob.Bucket,
			gcs.Prefix(cfg.Blob.Prefix),
			gcs.CredentialsFile(cfg.Blob.Credentials),
			gcs.Logger(l),
		)
	default:
		pth := cfg.blobPath()
		if err := os.MkdirAll(pth, 0o755); err != nil {
			return nil, err
		}
		return localfs.New(afero.NewBasePathFs(afero.NewOsFs(), pth))
	}
}

func (a *app) Close() {
	a.closeContext(context.Background())
}

// closeContext waits for running backups and deploys until ctx is done.
// Only the first call closes the app.
func (a *app) closeContext(ctx context.Context) {
	a.closed.Do(func() {
		if err := a.runtime.Close(ctx); err != nil {
			a.l.Error("closing the runtime", zap.Error(err))
		}
		for _, shutdown := range a.shutdown {
			_ = shutdown(ctx)
		}
		_ = a.l.Sync()
	})
}

// fatalln closes the app then exits, since deferred calls do not run on exit
func (a *app) fatalln(msg string, err error) {
	a.Close()
	wrapFatalln(msg, err)
}

// mustOpenApp opens the runtime or exits
func mustOpenApp(ctx context.Context) *app {
	a, err := openApp(ctx, config, nil)
	if err != nil {
		wrapFatalln("open confmon", err)
		return nil
	}
	return a
}

func author() string {
	if confmonFlags.snapshot.Author != "" {
		return confmonFlags.snapshot.Author
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "confmon"
}
