// SPDX-License-Identifier: ice License 1.0

package http

import (
	"context"
	"net/http"
	stdlibtime "time"

	"github.com/benbjohnson/clock"

	"github.com/ice-blockchain/relay/plugin"
	"github.com/ice-blockchain/relay/storage"
)

type (
	Config struct {
		// AdminKey unlocks the admin API through the X-Admin-Key header or the key query parameter.
		AdminKey string `yaml:"adminKey" mapstructure:"adminKey"`
		// AdminPubkeys may use the admin API with NIP-98 HTTP auth tokens instead of the key.
		AdminPubkeys []string `yaml:"adminPubkeys" mapstructure:"adminPubkeys"`
		Version      string   `yaml:"version" mapstructure:"version"`
	}
	// Manager is the part of *plugin.Manager the router needs.
	Manager interface {
		Fetch(w http.ResponseWriter, r *http.Request) bool
		ValidateConfig(ctx context.Context, cfg *storage.RelayConfig) error
		AdminSchemas() map[string]plugin.Schema
		Stats() map[string]map[string]any
	}
	// Websocket serves upgraded connections. *ws.Server implements it.
	Websocket interface {
		http.Handler
		Connections() int
	}
	Deps struct {
		Manager   Manager
		Storage   storage.ConfigStorage
		Websocket Websocket
		Clock     clock.Clock
	}
	router struct {
		deps    *Deps
		cfg     *Config
		auth    AuthClient
		started stdlibtime.Time
	}
	healthResponse struct {
		Status        string  `json:"status"`
		Version       string  `json:"version"`
		UptimeSeconds float64 `json:"uptimeSeconds"`
		Connections   int     `json:"connections"`
	}
	okResponse struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
)

const (
	headerAdminKey     = "X-Admin-Key"
	queryAdminKey      = "key"
	authorizationNostr = "Nostr "
	maxAdminBodySize   = 1 << 20
)
