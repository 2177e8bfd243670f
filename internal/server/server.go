// Package server exposes the tracing demo over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/fosrl/tracedemo/internal/demo"
	"github.com/fosrl/tracedemo/internal/logging"
)

// Executor runs one tracing demo.
type Executor interface {
	Execute(ctx context.Context) demo.Result
}

// Health reports whether the background components are running.
type Health interface {
	Running() bool
}

// Config holds the listener settings.
type Config struct {
	Addr        string
	ServiceName string
	MetricsPath string
}

// Options carries the optional telemetry collaborators.
type Options struct {
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	// MetricsHandler is mounted on Config.MetricsPath when set.
	MetricsHandler http.Handler
}

// Server serves the demo endpoints.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    zerolog.Logger
}

// New builds the router. Routes: GET /tracing-demo, GET /healthz and the
// metrics path when a metrics handler is given.
func New(cfg Config, exec Executor, health Health, opts Options, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()

	var otelOpts []otelgin.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagator != nil {
		otelOpts = append(otelOpts, otelgin.WithPropagators(opts.Propagator))
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tracedemo"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName, otelOpts...))
	engine.Use(requestLogger(log))

	engine.GET("/tracing-demo", func(c *gin.Context) {
		// Failures are part of the payload; the status is always 200.
		c.JSON(http.StatusOK, exec.Execute(c.Request.Context()))
	})
	engine.GET("/healthz", func(c *gin.Context) {
		if health != nil && !health.Running() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. It returns nil after
// Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logging.WithTrace(c.Request.Context(), log).Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
