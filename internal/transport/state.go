// ABOUTME: Connection state enum and the non-blocking state fan-out used by watchers
// ABOUTME: Transitions are published to every watcher; slow watchers miss intermediate states

package transport

import (
	"context"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErrored
)

// States lists every state, in declaration order.
var States = []State{StateDisconnected, StateConnecting, StateConnected, StateErrored}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateErrored:
		return "ERRORED"
	}
	return "UNKNOWN"
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

const watcherBufferSize = 16

// WatchState returns a channel receiving every state transition until ctx is
// done, after which it is closed. The current state is delivered first.
func (c *Connection) WatchState(ctx context.Context) <-chan State {
	id := uuid.NewString()
	ch := make(chan State, watcherBufferSize)

	c.mu.Lock()
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// setStateLocked records a transition. Caller holds c.mu.
func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.metrics.SetConnectionState(s.String(), stateNames())
	c.logger.Debug("connection state changed", "from", prev, "to", s)

	for id, ch := range c.watchers {
		select {
		case ch <- s:
		default:
			c.logger.Warn("state watcher full, dropping transition", "watcher_id", id, "state", s)
		}
	}
}
