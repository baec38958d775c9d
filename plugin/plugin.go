// SPDX-License-Identifier: ice License 1.0

package plugin

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relay/model"
)

type (
	// Plugin is one independently configurable unit of protocol behavior.
	// Setup is mandatory, OnMessage and Fetch are optional and may be nil.
	Plugin struct {
		// NewConfig returns a fresh pointer to the plugin's config populated with defaults.
		// Nil for plugins without configuration.
		NewConfig func() any
		Schema    Schema
		Setup     func(ctx context.Context, pctx *Context) error
		OnMessage MessageHandler
		Fetch     HTTPHandler
		ID        string
		// NIP is the advertised protocol extension number. Values outside [1,200) are never advertised.
		NIP int
	}
	// Schema is the JSON schema describing a plugin config, served to admin clients as is.
	Schema = map[string]any
	// MessageHandler reports handled=true when it claimed the message, which stops the dispatch.
	MessageHandler func(ctx context.Context, conn *Connection, msg model.Message) (handled bool, err error)
	// HTTPHandler reports whether it wrote a response.
	HTTPHandler func(w http.ResponseWriter, r *http.Request) bool

	// Validator is implemented by config types that need checks beyond the schema.
	Validator interface {
		Validate() error
	}
)

var (
	ErrInvalidConfig   = errors.New("invalid plugin config")
	ErrDuplicatePlugin = errors.New("duplicate plugin id")
	ErrNoSetup         = errors.New("plugin has no setup")
)
