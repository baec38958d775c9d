// SPDX-License-Identifier: ice License 1.0

package adapters

import (
	"bufio"
	"io"
	"net"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// NewWebsocketAdapter wraps an upgraded server side connection. Buffered bytes left in rw by the upgrade are read first.
func NewWebsocketAdapter(conn net.Conn, rw *bufio.ReadWriter, readTimeout, writeTimeout stdlibtime.Duration) *WebsocketAdapter {
	w := &WebsocketAdapter{conn: conn, reader: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
	if rw != nil && rw.Reader != nil {
		w.reader = rw.Reader
	}

	return w
}

// ReadMessage blocks until the next text or binary frame. Control frames are answered inline.
func (w *WebsocketAdapter) ReadMessage() ([]byte, error) {
	if w.readTimeout > 0 {
		_ = w.conn.SetReadDeadline(stdlibtime.Now().Add(w.readTimeout)) //nolint:errcheck // .
	}
	data, _, err := wsutil.ReadClientData(&readWriter{Reader: w.reader, Writer: &lockedWriter{w: w}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read websocket frame")
	}

	return data, nil
}

func (w *WebsocketAdapter) WriteMessage(data []byte) error {
	if w.Closed() {
		return nil
	}
	w.writeMx.Lock()
	defer w.writeMx.Unlock()
	w.setWriteDeadline()

	return errors.Wrap(wsutil.WriteServerMessage(w.conn, ws.OpText, data), "failed to write websocket frame")
}

func (w *WebsocketAdapter) setWriteDeadline() {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(stdlibtime.Now().Add(w.writeTimeout)) //nolint:errcheck // .
	}
}

func (w *WebsocketAdapter) Closed() bool {
	w.closeMx.Lock()
	defer w.closeMx.Unlock()

	return w.closed
}

// Close sends a going away frame, best effort, and closes the underlying connection.
func (w *WebsocketAdapter) Close() error {
	w.closeMx.Lock()
	if w.closed {
		w.closeMx.Unlock()

		return nil
	}
	w.closed = true
	w.closeMx.Unlock()

	w.writeMx.Lock()
	w.setWriteDeadline()
	_ = ws.WriteFrame(w.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, ""))) //nolint:errcheck // .
	w.writeMx.Unlock()
	if err := w.conn.Close(); err != nil && !IsConnClosedErr(err) {
		return errors.Wrap(err, "failed to close websocket conn")
	}

	return nil
}

// IsConnClosedErr reports errors caused by the peer (or us) going away, which are not worth logging.
func IsConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return closed.Code == ws.StatusNormalClosure ||
			closed.Code == ws.StatusGoingAway ||
			closed.Code == ws.StatusAbnormalClosure ||
			closed.Code == ws.StatusNoStatusRcvd
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "broken pipe")
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.w.writeMx.Lock()
	defer l.w.writeMx.Unlock()
	l.w.setWriteDeadline()

	return l.w.conn.Write(p) //nolint:wrapcheck // Proxy.
}
