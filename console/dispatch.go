package console

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotRunning is returned when a command is sent outside a
	// running session.
	ErrNotRunning = errors.New("session is not running")
	// ErrEmptyCommand is returned for whitespace-only commands, which
	// are never transmitted.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrCommandInFlight is returned while a previous send has not
	// settled. The call is a no-op, not queued.
	ErrCommandInFlight = errors.New("a command is already in flight")
)

// SendCommand relays one command to the managed process's input. At
// most one command is in flight per session; the guard is released
// when the request settles, success or not. Delivery failures are
// swallowed: a managed process without an input channel is an
// expected condition, and the session must not fail over it.
func (c *Controller) SendCommand(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}

	c.mut.Lock()
	if c.state != StateRunning {
		c.mut.Unlock()
		return ErrNotRunning
	}
	if c.inFlight {
		c.mut.Unlock()
		return ErrCommandInFlight
	}
	if c.send == nil {
		c.mut.Unlock()
		return errors.New("no command sender configured")
	}
	c.inFlight = true
	id := c.sessionID
	c.mut.Unlock()

	go func() {
		defer func() {
			c.mut.Lock()
			// the guard belongs to the session that took it; a new
			// session starts with it already cleared
			if c.sessionID == id {
				c.inFlight = false
			}
			c.mut.Unlock()
		}()
		if err := c.send(ctx, command+"\n"); err != nil {
			c.log.Debugf("command delivery failed: %s", err)
		}
	}()
	return nil
}
