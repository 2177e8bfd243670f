package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/fosrl/tracedemo/internal/demo"
	"github.com/fosrl/tracedemo/internal/deploy"
	"github.com/fosrl/tracedemo/internal/fetch"
	"github.com/fosrl/tracedemo/internal/lifecycle"
	"github.com/fosrl/tracedemo/internal/logging"
	"github.com/fosrl/tracedemo/internal/memgauge"
	"github.com/fosrl/tracedemo/internal/server"
	"github.com/fosrl/tracedemo/internal/store"
	"github.com/fosrl/tracedemo/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

type options struct {
	listen    string
	logLevel  string
	logHuman  bool
	telemetry telemetry.Config
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{telemetry: telemetry.DefaultConfig()}

	cmd := &cobra.Command{
		Use:          "tracedemo",
		Short:        "Serve the tracing demo endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", ":8080", "HTTP listen address")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logHuman, "log-human", false, "human readable console logs")
	flags.StringVar(&opts.telemetry.TraceExporter, "traces-exporter", opts.telemetry.TraceExporter, "trace exporter: otlp, stdout or none")
	flags.StringVar(&opts.telemetry.MetricExporter, "metrics-exporter", opts.telemetry.MetricExporter, "metric exporter: prom, otlp or none")
	flags.StringVar(&opts.telemetry.OTLP.Endpoint, "otlp-endpoint", opts.telemetry.OTLP.Endpoint, "OTLP/HTTP endpoint (host:port or URL)")
	flags.BoolVar(&opts.telemetry.OTLP.Insecure, "otlp-insecure", opts.telemetry.OTLP.Insecure, "disable TLS for OTLP")
	flags.BoolVar(&opts.telemetry.RuntimeMetrics, "runtime-metrics", opts.telemetry.RuntimeMetrics, "export Go runtime metrics")
	return cmd
}

func run(ctx context.Context, opts options) error {
	log, err := logging.New(logging.Options{Level: opts.logLevel, HumanReadable: opts.logHuman})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)

	provider, err := telemetry.Init(ctx, opts.telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	inst, err := telemetry.NewInstruments(provider.Meter())
	if err != nil {
		return fmt.Errorf("create instruments: %w", err)
	}
	defer inst.Close()

	counter, err := deploy.New(provider.Meter(), log)
	if err != nil {
		return err
	}
	group := lifecycle.NewGroup(log)
	group.Add("memory-gauge", memgauge.New(provider.Meter(), memgauge.HeapUsed, log))
	group.Add("deployment-counter", counter)

	client := fetch.NewClient(
		fetch.WithTracerProvider(provider.TracerProvider),
		fetch.WithPropagator(provider.Propagator),
	)
	d := demo.New(provider.Tracer(), client, store.New(), inst, log)

	srv := server.New(
		server.Config{
			Addr:        opts.listen,
			ServiceName: opts.telemetry.ServiceName,
			MetricsPath: opts.telemetry.Prometheus.Path,
		},
		d, group,
		server.Options{
			TracerProvider: provider.TracerProvider,
			Propagator:     provider.Propagator,
			MetricsHandler: provider.MetricsHandler,
		},
		log,
	)

	if err := group.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("serve: %w", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := group.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
