// SPDX-License-Identifier: ice License 1.0

package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	stdlibtime "time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/ice-blockchain/relay/plugin"
	httpserver "github.com/ice-blockchain/relay/server/http"
	wsserver "github.com/ice-blockchain/relay/server/ws"
	"github.com/ice-blockchain/relay/storage"
)

type (
	Config struct {
		WS              wsserver.Config     `yaml:",inline" mapstructure:",squash"`
		HTTP            httpserver.Config   `yaml:",inline" mapstructure:",squash"`
		Port            uint16              `yaml:"port" mapstructure:"port"`
		ShutdownTimeout stdlibtime.Duration `yaml:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	}
	Server struct {
		cfg     *Config
		ws      *wsserver.Server
		handler *gin.Engine
		server  *http.Server
	}
)

const (
	defaultShutdownTimeout = 10 * stdlibtime.Second
)

func New(cfg *Config, mgr *plugin.Manager, cfgStorage storage.ConfigStorage) *Server {
	ws := wsserver.New(mgr, &cfg.WS)
	s := &Server{
		cfg: cfg,
		ws:  ws,
		handler: httpserver.New(&cfg.HTTP, &httpserver.Deps{
			Manager:   mgr,
			Storage:   cfgStorage,
			Websocket: ws,
			Clock:     clock.New(),
		}),
	}
	s.server = &http.Server{ //nolint:gosec // Read timeouts are enforced per websocket frame.
		Addr:    fmt.Sprintf(":%v", cfg.Port),
		Handler: s.handler,
	}

	return s
}

// Handler is the router serving both plain HTTP and websocket upgrades.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks until ctx is done or the listener fails, then shuts everything down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %v", s.server.Addr)
	}
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	group, gCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("server started listening on %v...", listener.Addr())
		if sErr := s.server.Serve(listener); sErr != nil && !errors.Is(sErr, http.ErrServerClosed) {
			return errors.Wrap(sErr, "server.Serve failed")
		}

		return nil
	})
	group.Go(func() error {
		<-gCtx.Done()

		return s.shutdown() //nolint:contextcheck // Shutdown runs on its own context once ctx is done.
	})

	return group.Wait() //nolint:wrapcheck // Already wrapped.
}

func (s *Server) shutdown() error {
	log.Printf("shutting down server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var result *multierror.Error
	if err := s.server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "http server shutdown failed"))
	}
	if err := s.ws.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "websocket shutdown failed"))
	}
	if result.ErrorOrNil() == nil {
		log.Printf("server shutdown succeeded")
	}

	return result.ErrorOrNil()
}
