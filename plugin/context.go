// SPDX-License-Identifier: ice License 1.0

package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ice-blockchain/relay/storage"
)

const (
	schemaURLPrefix = "relay://plugins/"
)

// Context is what a plugin receives in Setup: logging, its own config scope and handler registration.
type Context struct {
	manager   *Manager
	plugin    *Plugin
	schema    *jsonschema.Schema
	cached    any
	cachedRaw []byte
	cacheMx   sync.Mutex
}

func (c *Context) Logf(format string, args ...any) {
	log.Printf("[%v] %v", c.plugin.ID, fmt.Sprintf(format, args...))
}

// Config returns the decoded config of the plugin: the persisted value, or the defaults when nothing is persisted.
// The decoded value is shared between callers until the persisted value changes and must be treated as read-only.
func (c *Context) Config(ctx context.Context) (any, error) {
	if c.plugin.NewConfig == nil {
		return nil, nil //nolint:nilnil // Plugins without config.
	}
	raw, err := c.manager.storage.GetPluginConfig(ctx, c.plugin.ID, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config of %v", c.plugin.ID)
	}
	if raw == nil {
		raw = c.plugin.NewConfig()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal config of %v", c.plugin.ID)
	}
	c.cacheMx.Lock()
	defer c.cacheMx.Unlock()
	if c.cached != nil && bytes.Equal(c.cachedRaw, data) {
		return c.cached, nil
	}
	cfg, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	c.cached, c.cachedRaw = cfg, data

	return cfg, nil
}

func (c *Context) SetConfig(ctx context.Context, value any) error {
	return errors.Wrapf(c.manager.storage.SetPluginConfig(ctx, c.plugin.ID, value), "failed to store config of %v", c.plugin.ID)
}

// RelayInfo is the relay information document as currently persisted.
func (c *Context) RelayInfo(ctx context.Context) (*storage.RelayInfo, error) {
	cfg, err := c.manager.storage.GetAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read relay config")
	}

	return &cfg.Relay, nil
}

func (c *Context) SupportedNIPs() []int {
	return c.manager.SupportedNIPs()
}

// RegisterMessageHandler adds a handler to the global dispatch chain. A plugin may register several.
func (c *Context) RegisterMessageHandler(handler MessageHandler) {
	c.manager.handlers = append(c.manager.handlers, &registeredHandler{
		handle:   handler,
		pluginID: c.plugin.ID,
		claims:   c.manager.claimsCounter(c.plugin.ID),
	})
}

func (c *Context) compileSchema() error {
	if c.plugin.Schema == nil {
		return nil
	}
	raw, err := json.Marshal(c.plugin.Schema)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal schema of %v", c.plugin.ID)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return errors.Wrapf(err, "failed to parse schema of %v", c.plugin.ID)
	}
	url := schemaURLPrefix + c.plugin.ID
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(url, doc); err != nil {
		return errors.Wrapf(err, "failed to add schema of %v", c.plugin.ID)
	}
	if c.schema, err = compiler.Compile(url); err != nil {
		return errors.Wrapf(err, "failed to compile schema of %v", c.plugin.ID)
	}

	return nil
}

// decode validates data against the schema and decodes it on top of the plugin defaults.
func (c *Context) decode(data []byte) (any, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v: %v", c.plugin.ID, err)
	}
	if c.schema != nil {
		if err = c.schema.Validate(doc); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%v: %v", c.plugin.ID, err)
		}
	}
	cfg := c.plugin.NewConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "json",
		WeaklyTypedInput: true,
		ZeroFields:       true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build config decoder for %v", c.plugin.ID)
	}
	if err = decoder.Decode(doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v: %v", c.plugin.ID, err)
	}
	if validator, ok := cfg.(Validator); ok {
		if err = validator.Validate(); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%v: %v", c.plugin.ID, err)
		}
	}

	return cfg, nil
}

// Config is the typed form of Context.Config.
func Config[T any](ctx context.Context, pctx *Context) (*T, error) {
	val, err := pctx.Config(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := val.(*T)
	if !ok {
		return nil, errors.Errorf("config of %v is %T, not %T", pctx.plugin.ID, val, cfg)
	}

	return cfg, nil
}
