// SPDX-License-Identifier: ice License 1.0

package plugin

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

// Connection is the per-connection context handed to plugins for the lifetime of one client connection.
// Messages of one connection are processed one at a time, so session state needs no locking.
type Connection struct {
	state    map[string]any
	send     func(nostr.Envelope) error
	ID       string
	RelayURL string
}

func NewConnection(id, relayURL string, send func(nostr.Envelope) error) *Connection {
	return &Connection{ID: id, RelayURL: relayURL, send: send, state: make(map[string]any)}
}

func (c *Connection) Send(envelope nostr.Envelope) error {
	return errors.Wrapf(c.send(envelope), "failed to send %v to %v", envelope.Label(), c.ID)
}

func (c *Connection) OK(eventID string, accepted bool, reason string) error {
	return c.Send(&nostr.OKEnvelope{EventID: eventID, OK: accepted, Reason: reason})
}

func (c *Connection) Notice(text string) error {
	notice := nostr.NoticeEnvelope(text)

	return c.Send(&notice)
}

// Close drops all session state.
func (c *Connection) Close() {
	clear(c.state)
}

// State returns the session value stored under key, creating a zero T on first use.
func State[T any](conn *Connection, key string) *T {
	if val, ok := conn.state[key].(*T); ok {
		return val
	}
	val := new(T)
	conn.state[key] = val

	return val
}
