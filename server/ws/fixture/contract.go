// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"io"
	"net"
	"sync"
	stdlibtime "time"
)

type (
	// Client is a minimal websocket client for driving the relay in tests.
	Client struct {
		conn     net.Conn
		rw       io.ReadWriter
		closeMx  sync.Mutex
		closed   bool
		writeMx  sync.Mutex
		deadline stdlibtime.Duration
	}
	readWriter struct {
		io.Reader
		io.Writer
	}
)

const (
	defaultDeadline = 5 * stdlibtime.Second
)
