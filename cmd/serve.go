// SPDX-License-Identifier: AGPL-3.0-or-later
// gb28181-sipgw - GB/T 28181 SIP signaling gateway
// Copyright (C) 2026 gb28181-sipgw contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/httpapi"
	"github.com/gb28181/sipgw/internal/mediaclient"
	"github.com/gb28181/sipgw/internal/metrics"
	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/handlers"
	"github.com/gb28181/sipgw/internal/sip/transport"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "serve",
		Short:             "Run the SIP signaling gateway",
		DisableAutoGenTag: true,
		RunE:              runServe,
	}
}

// setupLogger configures the process-level structured logger. klog, used
// throughout the SIP engine, is left at its own defaults; this logger is
// for cmd's own lifecycle messages.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
	slog.SetDefault(logger)
}

// setupTracing initializes OpenTelemetry tracing if configured. When
// tracing is not configured it returns a no-op cleanup function.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "gb28181-sipgw"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resources: %w", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	setupLogger(cfg)
	slog.Info("starting gb28181-sipgw", "version", cmd.Root().Annotations["version"])

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}

	store, err := registry.MakeStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create registry store: %w", err)
	}

	metricsInstance := metrics.NewMetrics()
	go func() {
		metrics.CreateMetricsServer(cfg)
	}()

	mediaClient := mediaclient.New(cfg.MediaAllocator)

	// Transport.New needs a Dispatcher at construction time, but the
	// Dispatcher is a method on the Handler, which in turn needs the
	// constructed Transport as its Sender. handler is assigned right
	// after transport.New returns; the closure is only ever invoked
	// once tp.Start runs, by which point handler is non-nil.
	var handler *handlers.Handler
	tp, err := transport.New(transport.Config{
		Host:            cfg.SIP.Host,
		Port:            cfg.SIP.Port,
		RecvBufferSize:  cfg.SIP.SocketRecvBufferSize,
		MaxMessageBytes: cfg.SIP.MaxMessageBytes,
	}, func(peerAddr net.Addr, handle transport.Handle, raw []byte) {
		handler.Dispatch(peerAddr, handle, raw)
	})
	if err != nil {
		return fmt.Errorf("failed to bind SIP transport: %w", err)
	}
	handler = handlers.New(&cfg.SIP, store, tp, mediaClient, metricsInstance)

	ctx, cancel := context.WithCancel(context.Background())
	tp.Start(ctx)

	sweeper, err := registry.NewSweeper(
		store,
		metricsInstance,
		time.Duration(cfg.SIP.StreamTimeoutSeconds)*time.Second,
		time.Duration(cfg.SIP.DeviceTimeoutSeconds)*time.Second,
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create registry sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start registry sweeper: %w", err)
	}
	go consumeDeviceTimeouts(store, sweeper.TimeoutDevices)
	go consumeStreamTimeouts(context.Background(), handler, sweeper.TimeoutStreams)

	httpServer := httpapi.MakeServer(cfg, store, handler)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, httpapi.ErrClosed) {
			slog.Error("control plane server stopped", "error", err)
		}
	}()

	setupShutdownHandlers(cancel, tp, sweeper, &httpServer, store, cleanup)
	return nil
}

// consumeDeviceTimeouts unregisters devices the sweeper considers stale.
// It returns once the sweeper closes the channel on Stop.
func consumeDeviceTimeouts(store registry.Store, timeouts <-chan string) {
	for gbCode := range timeouts {
		store.Unregister(gbCode)
		slog.Info("device timed out, unregistered", "gb_code", gbCode)
	}
}

// consumeStreamTimeouts stops streams the sweeper considers stale,
// reusing the same path an operator-initiated stop takes.
func consumeStreamTimeouts(ctx context.Context, h *handlers.Handler, timeouts <-chan registry.TimedOutStream) {
	for s := range timeouts {
		if err := h.StopSession(ctx, s.GBCode, s.StreamID); err != nil && !errors.Is(err, handlers.ErrStreamNotFound) {
			slog.Warn("failed to stop timed-out stream", "gb_code", s.GBCode, "stream_id", s.StreamID, "error", err)
			continue
		}
		slog.Info("stream timed out, stopped", "gb_code", s.GBCode, "stream_id", s.StreamID)
	}
}

func setupShutdownHandlers(cancel context.CancelFunc, tp *transport.Transport, sweeper *registry.Sweeper, httpServer *httpapi.Server, store registry.Store, cleanup func(context.Context) error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	sig := <-sigCh
	slog.Info("shutting down due to signal", "signal", sig)

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Stop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		httpServer.Stop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cancel()
		if err := tp.Close(); err != nil {
			slog.Error("failed to close SIP transport", "error", err)
		}
	}()

	const timeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		slog.Info("all subsystems stopped, shutting down gracefully")
	case <-time.After(timeout):
		slog.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}

	if err := store.Close(); err != nil {
		slog.Error("failed to close registry store", "error", err)
	}

	if cleanup != nil {
		const traceTimeout = 5 * time.Second
		shutdownCtx, cxl := context.WithTimeout(context.Background(), traceTimeout)
		defer cxl()
		if err := cleanup(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}
}
