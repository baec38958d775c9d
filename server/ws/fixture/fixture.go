// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"encoding/json"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// NewWebsocketClient dials url, http(s) urls are rewritten to ws(s).
func NewWebsocketClient(ctx context.Context, url string) (*Client, error) {
	url = strings.Replace(url, "http", "ws", 1)
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %v", url)
	}
	client := &Client{conn: conn, rw: conn, deadline: defaultDeadline}
	if br != nil {
		client.rw = &readWriter{Reader: br, Writer: conn}
	}

	return client, nil
}

func (c *Client) WriteMessage(data []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.deadline)) //nolint:errcheck // .

	return errors.Wrap(wsutil.WriteClientText(c.conn, data), "failed to write message")
}

// Send writes every value as one json array message.
func (c *Client) Send(vals ...any) error {
	data, err := json.Marshal(vals)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %#v", vals)
	}

	return c.WriteMessage(data)
}

// ReadMessage waits for the next text message.
func (c *Client) ReadMessage() ([]byte, error) {
	_ = c.conn.SetReadDeadline(stdlibtime.Now().Add(c.deadline)) //nolint:errcheck // .
	data, err := wsutil.ReadServerText(c.rw)

	return data, errors.Wrap(err, "failed to read message")
}

// ReadMessages reads exactly n messages.
func (c *Client) ReadMessages(n int) ([]string, error) {
	out := make([]string, 0, n)
	for range n {
		data, err := c.ReadMessage()
		if err != nil {
			return out, err
		}
		out = append(out, string(data))
	}

	return out, nil
}

func (c *Client) Close() error {
	c.closeMx.Lock()
	defer c.closeMx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.writeMx.Lock()
	_ = c.conn.SetWriteDeadline(stdlibtime.Now().Add(c.deadline))                                        //nolint:errcheck // .
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "")) //nolint:errcheck // .
	c.writeMx.Unlock()

	return errors.Wrap(c.conn.Close(), "failed to close client conn")
}
