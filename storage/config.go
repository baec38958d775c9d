// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
)

type (
	kv interface {
		io.Closer
		// Get returns errKeyNotFound for absent keys.
		Get(ctx context.Context, key string) ([]byte, error)
		Put(ctx context.Context, key string, value []byte) error
	}
	configStorage struct {
		kv       kv
		clock    clock.Clock
		cached   *RelayConfig
		cachedAt time.Time
		ttl      time.Duration
		mx       sync.Mutex
	}
)

// newConfigStorage caches the decoded config. Zero ttl keeps it until the next write or invalidate.
func newConfigStorage(store kv, ttl time.Duration) *configStorage {
	return &configStorage{kv: store, ttl: ttl, clock: clock.New()}
}

func (s *configStorage) GetAll(ctx context.Context) (*RelayConfig, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	return deepCopy(cfg)
}

func (s *configStorage) SetAll(ctx context.Context, cfg *RelayConfig) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.store(ctx, cfg)
}

func (s *configStorage) GetPluginConfig(ctx context.Context, pluginID string, defaultValue any) (any, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if val, found := cfg.Plugins[pluginID]; found && val != nil {
		return val, nil
	}

	return defaultValue, nil
}

func (s *configStorage) SetPluginConfig(ctx context.Context, pluginID string, value any) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.cached = nil
	current, err := s.load(ctx)
	if err != nil {
		return err
	}
	cfg, err := deepCopy(current)
	if err != nil {
		return err
	}
	cfg.Plugins[pluginID] = value

	return s.store(ctx, cfg)
}

func (s *configStorage) Close() error {
	return errors.Wrap(s.kv.Close(), "failed to close config storage backend")
}

func (s *configStorage) invalidate() {
	s.mx.Lock()
	s.cached = nil
	s.mx.Unlock()
}

func (s *configStorage) load(ctx context.Context) (*RelayConfig, error) {
	if s.cached != nil && (s.ttl <= 0 || s.clock.Since(s.cachedAt) < s.ttl) {
		return s.cached, nil
	}
	data, err := s.kv.Get(ctx, configKey)
	if errors.Is(err, errKeyNotFound) {
		s.remember(Default())

		return s.cached, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to read relay config")
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	s.remember(cfg)

	return s.cached, nil
}

func (s *configStorage) store(ctx context.Context, cfg *RelayConfig) error {
	if cfg == nil {
		return errors.Wrap(ErrCorruptedConfig, "nil config")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal relay config")
	}
	if err = s.kv.Put(ctx, configKey, data); err != nil {
		return errors.Wrap(err, "failed to write relay config")
	}
	stored, err := decode(data)
	if err != nil {
		return err
	}
	s.remember(stored)

	return nil
}

func (s *configStorage) remember(cfg *RelayConfig) {
	s.cached = cfg
	s.cachedAt = s.clock.Now()
}

func decode(data []byte) (*RelayConfig, error) {
	cfg := new(RelayConfig)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(ErrCorruptedConfig, "%v", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]any{}
	}
	if cfg.Relay.SupportedNIPs == nil {
		cfg.Relay.SupportedNIPs = []int{}
	}

	return cfg, nil
}

func deepCopy(cfg *RelayConfig) (*RelayConfig, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal relay config")
	}

	return decode(data)
}
