package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/shhac/switchboard/internal/dispatch"
	"github.com/shhac/switchboard/internal/domain"
	"github.com/shhac/switchboard/internal/grpcbridge"
	"github.com/shhac/switchboard/internal/logging"
	"github.com/shhac/switchboard/internal/protodoc"
	"github.com/shhac/switchboard/internal/registry"
	"github.com/shhac/switchboard/internal/worker"
)

// App is the main application coordinator, responsible for wiring
// together all components and managing their lifecycle.
type App struct {
	config     *Config
	logger     *slog.Logger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	document   *protodoc.Document
	bridge     *grpcbridge.Server
	grpcServer *grpc.Server
	health     *health.Server
	closeLog   func() error
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer dispatch.Observer
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver receives detached auxiliary failures.
func WithObserver(obs dispatch.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// New creates a new App serving the given services.
// This performs all dependency injection and wiring.
func New(cfg *Config, services []*domain.Service, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	closeLog := func() error { return nil }
	if logger == nil {
		var err error
		logger, closeLog, err = NewLogger(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.Info("initializing switchboard",
		slog.Bool("debug", cfg.Debug),
		slog.Bool("fanout", cfg.Fanout),
		slog.String("namespace", cfg.Namespace),
		slog.Int("services", len(services)),
	)

	reg, err := registry.New(services,
		registry.WithFanout(cfg.Fanout),
		registry.WithNamespace(cfg.Namespace),
		registry.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	doc, err := protodoc.Build(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to build interface document: %w", err)
	}

	dispatcherOpts := []dispatch.Option{
		dispatch.WithPool(worker.New(cfg.DetachedWorkers, cfg.DetachedQueue, logger)),
		dispatch.WithLogger(logger),
	}
	if o.observer != nil {
		dispatcherOpts = append(dispatcherOpts, dispatch.WithObserver(o.observer))
	}
	dispatcher := dispatch.New(reg, dispatcherOpts...)

	bridge := grpcbridge.New(dispatcher, doc, logger)
	grpcServer := grpc.NewServer(
		bridge.ServerOption(),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if cfg.Reflection {
		if err := bridge.RegisterReflection(grpcServer); err != nil {
			return nil, fmt.Errorf("failed to register reflection: %w", err)
		}
	}

	logger.Info("application initialized successfully",
		slog.Int("operations", len(doc.Operations())),
		slog.Any("packages", doc.Packages()),
	)

	return &App{
		config:     cfg,
		logger:     logger,
		registry:   reg,
		dispatcher: dispatcher,
		document:   doc,
		bridge:     bridge,
		grpcServer: grpcServer,
		health:     healthServer,
		closeLog:   sync.OnceValue(closeLog),
	}, nil
}

// NewLogger builds the logger cfg asks for: a rotated file when LogFile or
// LogPath is set, stderr otherwise. The returned func closes the file.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	opts := cfg.LogOptions()
	if !cfg.LogFile && cfg.LogPath == "" {
		return logging.NewWithOptions(os.Stderr, opts), func() error { return nil }, nil
	}
	logger, f, err := logging.OpenFile("switchboard", opts)
	if err != nil {
		return nil, nil, err
	}
	return logger, f.Close, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.config.ListenAddr, err)
	}
	return a.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then drains in-flight calls
// and detached auxiliaries.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	a.logger.Info("starting server", slog.String("addr", lis.Addr().String()))

	for _, pkg := range a.document.Packages() {
		a.health.SetServingStatus(pkg+"."+protodoc.DefaultServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		a.health.Shutdown()
		a.grpcServer.GracefulStop()
		err := <-serveErr
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Warn("shutdown incomplete", slog.Any("error", closeErr))
		}
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		_ = a.Close()
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close stops the gRPC server and waits up to the shutdown timeout for
// detached auxiliaries to finish.
func (a *App) Close() error {
	a.grpcServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	if err := a.dispatcher.Close(ctx); err != nil {
		return fmt.Errorf("drain detached auxiliaries: %w", err)
	}
	a.logger.Info("application shutdown complete")
	return a.closeLog()
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Registry returns the method registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Dispatcher returns the dispatcher serving the registry.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Document returns the generated interface document.
func (a *App) Document() *protodoc.Document {
	return a.document
}
