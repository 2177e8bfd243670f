// Package lifecycle starts and stops the service's background components.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Component is a start/stop hook driven by the process lifecycle.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

type member struct {
	name string
	c    Component
}

// Group starts components in registration order and stops them in reverse.
// It is not safe for concurrent Add.
type Group struct {
	members []member
	log     zerolog.Logger
}

// NewGroup returns an empty Group.
func NewGroup(log zerolog.Logger) *Group {
	return &Group{log: log.With().Str("component", "lifecycle").Logger()}
}

// Add registers c under name.
func (g *Group) Add(name string, c Component) {
	g.members = append(g.members, member{name: name, c: c})
}

// Start starts every component. If one fails, the ones already started are
// stopped again and the start error is returned.
func (g *Group) Start(ctx context.Context) error {
	for i, m := range g.members {
		if err := m.c.Start(ctx); err != nil {
			startErr := fmt.Errorf("lifecycle: start %s: %w", m.name, err)
			if stopErr := g.stop(ctx, g.members[:i]); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		g.log.Info().Str("name", m.name).Msg("started")
	}
	return nil
}

// Stop stops every component in reverse order and joins their errors.
func (g *Group) Stop(ctx context.Context) error {
	return g.stop(ctx, g.members)
}

func (g *Group) stop(ctx context.Context, members []member) error {
	var errs []error
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if err := m.c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle: stop %s: %w", m.name, err))
			continue
		}
		g.log.Info().Str("name", m.name).Msg("stopped")
	}
	return errors.Join(errs...)
}

// Running reports whether every component is running.
func (g *Group) Running() bool {
	for _, m := range g.members {
		if !m.c.IsRunning() {
			return false
		}
	}
	return true
}
