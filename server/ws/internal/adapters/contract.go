// SPDX-License-Identifier: ice License 1.0

package adapters

import (
	"io"
	"net"
	"sync"
	stdlibtime "time"
)

type (
	WSReader interface {
		ReadMessage() (data []byte, err error)
		io.Closer
	}
	WSWriter interface {
		WriteMessage(data []byte) error
		io.Closer
	}
	WS interface {
		WSWriter
		WSReader
	}
	WebsocketAdapter struct {
		conn         net.Conn
		reader       io.Reader
		writeMx      sync.Mutex
		closeMx      sync.Mutex
		closed       bool
		writeTimeout stdlibtime.Duration
		readTimeout  stdlibtime.Duration
	}
)

type (
	// lockedWriter routes control frame replies through the adapter write lock.
	lockedWriter struct {
		w *WebsocketAdapter
	}
	readWriter struct {
		io.Reader
		io.Writer
	}
)
