package console

import (
	"context"
	"errors"

	"github.com/MrWong99/castvox/internal/health"
)

// Checkers returns the readiness checks for the rule table and both
// connections. The relay check is optional and only present when a chat
// channel is configured.
func (c *Console) Checkers() []health.Checker {
	checks := []health.Checker{
		{
			Name: "rules",
			Check: func(context.Context) error {
				if c.engine.Len() == 0 {
					return errors.New("no rules loaded")
				}
				return nil
			},
		},
		{
			Name: clientCompositor,
			Check: func(context.Context) error {
				if !c.state.Snapshot().CompositorReady {
					return errors.New("not authenticated")
				}
				return nil
			},
		},
	}
	if c.relay != nil && c.cfg.Relay.Enabled() {
		checks = append(checks, health.Checker{
			Name:     clientRelay,
			Optional: true,
			Check: func(context.Context) error {
				if !c.state.Snapshot().RelayReady {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}
	return checks
}
