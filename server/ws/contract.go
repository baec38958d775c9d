// SPDX-License-Identifier: ice License 1.0

package ws

import (
	"context"
	"sync"
	stdlibtime "time"

	"github.com/gobwas/ws"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
	"github.com/ice-blockchain/relay/server/ws/internal/adapters"
)

type (
	// Handler processes one parsed message of a connection. *plugin.Manager implements it.
	Handler interface {
		OnMessage(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error)
	}
	Config struct {
		ReadTimeout  stdlibtime.Duration `yaml:"readTimeout" mapstructure:"readTimeout"`
		WriteTimeout stdlibtime.Duration `yaml:"writeTimeout" mapstructure:"writeTimeout"`
	}
	Writer = adapters.WSWriter
	Server struct {
		handler  Handler
		conns    *xsync.MapOf[string, *connection]
		cfg      *Config
		upgrader ws.HTTPUpgrader
		wg       sync.WaitGroup
	}
)

// NoticeInvalidMessage is sent for unparsable messages and for failures while handling one.
const NoticeInvalidMessage = "invalid message"

type (
	connection struct {
		socket *adapters.WebsocketAdapter
		conn   *plugin.Connection
	}
)
