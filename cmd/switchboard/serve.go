package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	switchboard "github.com/shhac/switchboard/internal/app"
	"github.com/shhac/switchboard/internal/telemetry"
)

// ServeCmd starts the gRPC server. Flags override the SWITCHBOARD_*
// environment.
// Usage: switchboard serve --listen 127.0.0.1:7410 --fanout
type ServeCmd struct {
	Debug        bool   `short:"d" long:"debug" description:"enable debug logging"`
	LogLevel     string `long:"log-level" description:"log level: debug, info, warn or error"`
	LogPath      string `long:"log-path" description:"log to this file, rotated by size"`
	Listen       string `short:"l" long:"listen" description:"gRPC listen address"`
	Namespace    string `short:"n" long:"namespace" description:"target namespace for methods without one"`
	Fanout       bool   `long:"fanout" description:"let several services answer the same method"`
	Workers      int    `long:"workers" description:"detached auxiliary workers"`
	Queue        int    `long:"queue" description:"detached auxiliary queue size"`
	NoReflection bool   `long:"no-reflection" description:"disable gRPC server reflection"`
	OTelEndpoint string `long:"otel-endpoint" description:"OTLP/HTTP trace endpoint"`
	PrintProto   bool   `long:"print-proto" description:"print the generated proto files and exit"`
}

func (s *ServeCmd) Execute(_ []string) error {
	cfg, err := switchboard.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	s.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := switchboard.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	services, err := demoServices(cfg.Fanout, logger)
	if err != nil {
		return fmt.Errorf("failed to declare services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "switchboard", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	a, err := switchboard.New(cfg, services, switchboard.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.Logger().Warn("failed to flush traces", slog.Any("error", err))
		}
	}()

	if s.PrintProto {
		out, err := a.Document().Print()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return a.Close()
	}

	return a.Run(ctx)
}

func (s *ServeCmd) apply(cfg *switchboard.Config) {
	if s.Debug {
		cfg.Debug = true
	}
	if s.LogLevel != "" {
		cfg.LogLevel = s.LogLevel
	}
	if s.LogPath != "" {
		cfg.LogPath = s.LogPath
	}
	if s.Listen != "" {
		cfg.ListenAddr = s.Listen
	}
	if s.Namespace != "" {
		cfg.Namespace = s.Namespace
	}
	if s.Fanout {
		cfg.Fanout = true
	}
	if s.Workers > 0 {
		cfg.DetachedWorkers = s.Workers
	}
	if s.Queue > 0 {
		cfg.DetachedQueue = s.Queue
	}
	if s.NoReflection {
		cfg.Reflection = false
	}
	if s.OTelEndpoint != "" {
		cfg.OTelEndpoint = s.OTelEndpoint
	}
}
