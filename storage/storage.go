// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
)

type (
	// ConfigStorage persists the relay document and per-plugin configuration.
	// Values returned by GetPluginConfig are shared and must not be modified.
	ConfigStorage interface {
		io.Closer
		GetAll(ctx context.Context) (*RelayConfig, error)
		SetAll(ctx context.Context, cfg *RelayConfig) error
		GetPluginConfig(ctx context.Context, pluginID string, defaultValue any) (any, error)
		SetPluginConfig(ctx context.Context, pluginID string, value any) error
	}
	RelayConfig struct {
		Plugins map[string]any `json:"plugins"`
		Relay   RelayInfo      `json:"relay"`
	}
	// RelayInfo is the relay information document served to clients asking for application/nostr+json.
	RelayInfo struct {
		Limitation    map[string]any `json:"limitation,omitempty"`
		Fees          map[string]any `json:"fees,omitempty"`
		Name          string         `json:"name"`
		Description   string         `json:"description,omitempty"`
		PubKey        string         `json:"pubkey,omitempty"`
		Contact       string         `json:"contact,omitempty"`
		Software      string         `json:"software,omitempty"`
		Version       string         `json:"version,omitempty"`
		Icon          string         `json:"icon,omitempty"`
		Banner        string         `json:"banner,omitempty"`
		PostingPolicy string         `json:"posting_policy,omitempty"`
		PaymentsURL   string         `json:"payments_url,omitempty"`
		SupportedNIPs []int          `json:"supported_nips"`
	}
	Backend string
	Config  struct {
		Backend  Backend       `yaml:"backend" mapstructure:"backend"`
		Path     string        `yaml:"path" mapstructure:"path"`
		RedisURL string        `yaml:"redisURL" mapstructure:"redisURL"`
		CacheTTL time.Duration `yaml:"cacheTTL" mapstructure:"cacheTTL"`
	}
)

const (
	BackendMemory  Backend = "memory"
	BackendFile    Backend = "file"
	BackendLevelDB Backend = "leveldb"
	BackendRedis   Backend = "redis"
)

const (
	configKey = "relay-config"
)

var (
	ErrUnknownBackend  = errors.New("unknown config storage backend")
	ErrCorruptedConfig = errors.New("corrupted relay config")
	errKeyNotFound     = errors.New("key not found")
)

// Default is the configuration used until something is persisted.
func Default() *RelayConfig {
	return &RelayConfig{
		Relay: RelayInfo{
			Name:          "My Community Relay",
			Description:   "A nostr relay",
			Software:      "https://github.com/ice-blockchain/relay",
			Version:       "1.0.0",
			SupportedNIPs: []int{},
		},
		Plugins: map[string]any{},
	}
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *Config) (ConfigStorage, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrUnknownBackend, "no configuration")
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return newConfigStorage(newMemoryKV(), 0), nil
	case BackendLevelDB:
		store, err := newLevelDBKV(cfg.Path)
		if err != nil {
			return nil, err
		}

		return newConfigStorage(store, 0), nil
	case BackendFile:
		return newFileConfigStorage(cfg.Path)
	case BackendRedis:
		store, err := newRedisKV(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}

		return newConfigStorage(store, cfg.CacheTTL), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}
