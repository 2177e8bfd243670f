// Package deploy signals a deployment by counting service starts.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// Counter increments app.deployments once when the service starts.
type Counter struct {
	deployments metric.Int64Counter
	log         zerolog.Logger

	once    sync.Once
	running atomic.Bool
}

// New creates the app.deployments counter on meter.
func New(meter metric.Meter, log zerolog.Logger) (*Counter, error) {
	deployments, err := meter.Int64Counter("app.deployments", metric.WithDescription("Service deployments."))
	if err != nil {
		return nil, fmt.Errorf("deploy: create counter: %w", err)
	}
	return &Counter{
		deployments: deployments,
		log:         log.With().Str("component", "deploy").Logger(),
	}, nil
}

// Start records the deployment. Only the first call adds to the counter.
func (c *Counter) Start(ctx context.Context) error {
	c.once.Do(func() {
		c.deployments.Add(ctx, 1)
		c.log.Info().Msg("deployment recorded")
	})
	c.running.Store(true)
	return nil
}

// Stop marks the counter as stopped.
func (c *Counter) Stop(context.Context) error {
	c.running.Store(false)
	return nil
}

// IsRunning reports whether Start has been called since the last Stop.
func (c *Counter) IsRunning() bool {
	return c.running.Load()
}
