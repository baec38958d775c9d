// SPDX-License-Identifier: ice License 1.0

package ws

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
	"github.com/ice-blockchain/relay/server/ws/internal/adapters"
)

func New(handler Handler, cfg *Config) *Server {
	if cfg == nil {
		cfg = new(Config)
	}

	return &Server{
		handler: handler,
		cfg:     cfg,
		conns:   xsync.NewMapOf[string, *connection](),
		upgrader: ws.HTTPUpgrader{
			Timeout: cfg.WriteTimeout,
			// Permessage compression is not supported.
			Extension: func(httphead.Option) bool { return false },
		},
	}
}

// IsUpgrade reports whether r asks for a websocket.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP upgrades the request and serves the connection until either side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	netConn, rw, _, err := s.upgrader.Upgrade(r, w)
	if err != nil {
		log.Printf("WARN: websocket upgrade failed for %v: %v", r.RemoteAddr, err)

		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	socket := adapters.NewWebsocketAdapter(netConn, rw, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.serve(ctx, socket, relayURL(r))
}

func (s *Server) serve(ctx context.Context, socket *adapters.WebsocketAdapter, relayURL string) {
	c := &connection{socket: socket}
	c.conn = plugin.NewConnection(uuid.NewString(), relayURL, func(envelope nostr.Envelope) error {
		data, err := envelope.MarshalJSON()
		if err != nil {
			return errors.Wrapf(err, "failed to serialize %+v into json", envelope)
		}

		return socket.WriteMessage(data)
	})
	s.conns.Store(c.conn.ID, c)
	defer func() {
		c.conn.Close()
		if err := socket.Close(); err != nil {
			log.Printf("ERROR:%v", errors.Wrapf(err, "failed to close connection %v", c.conn.ID))
		}
		s.conns.Delete(c.conn.ID)
	}()
	for ctx.Err() == nil {
		data, err := socket.ReadMessage()
		if err != nil {
			if !adapters.IsConnClosedErr(err) && !socket.Closed() {
				log.Printf("WARN: connection %v: %v", c.conn.ID, err)
			}

			return
		}
		if len(data) > 0 {
			s.handle(ctx, c.conn, data)
		}
	}
}

// handle processes one frame. Failures are reported to the client with a notice and never close the connection.
func (s *Server) handle(ctx context.Context, conn *plugin.Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: panic while handling message on %v: %v", conn.ID, r)
			s.notice(conn)
		}
	}()
	msg, err := model.ParseMessage(data)
	if err != nil {
		log.Printf("WARN: connection %v sent an invalid message: %v", conn.ID, err)
		s.notice(conn)

		return
	}
	if _, err = s.handler.OnMessage(ctx, conn, msg); err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to handle %v on %v", msg.Label(), conn.ID))
		s.notice(conn)
	}
}

func (*Server) notice(conn *plugin.Connection) {
	if err := conn.Notice(NoticeInvalidMessage); err != nil && !adapters.IsConnClosedErr(err) {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to send notice to %v", conn.ID))
	}
}

// Connections is the number of open connections.
func (s *Server) Connections() int {
	return s.conns.Size()
}

// Close closes every open connection and waits for their loops to exit.
func (s *Server) Close() error {
	s.conns.Range(func(_ string, c *connection) bool {
		if err := c.socket.Close(); err != nil {
			log.Printf("ERROR:%v", errors.Wrapf(err, "failed to close connection %v", c.conn.ID))
		}

		return true
	})
	s.wg.Wait()

	return nil
}

// relayURL is the url the client dialed, as used by authentication relay tags.
func relayURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	return scheme + "://" + host + r.URL.Path
}
