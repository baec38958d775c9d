// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func helperOpen(t *testing.T, cfg *Config) ConfigStorage {
	t.Helper()

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func helperForEachBackend(t *testing.T, fn func(t *testing.T, store ConfigStorage)) {
	t.Helper()

	backends := map[string]func(t *testing.T) *Config{
		"memory":          func(*testing.T) *Config { return &Config{Backend: BackendMemory} },
		"leveldb-memory":  func(*testing.T) *Config { return &Config{Backend: BackendLevelDB} },
		"leveldb-on-disk": func(t *testing.T) *Config { return &Config{Backend: BackendLevelDB, Path: t.TempDir()} },
		"file":            func(t *testing.T) *Config { return &Config{Backend: BackendFile, Path: t.TempDir()} },
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		backends["redis"] = func(*testing.T) *Config { return &Config{Backend: BackendRedis, RedisURL: url} }
	}
	for name, cfg := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, helperOpen(t, cfg(t)))
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	helperForEachBackend(t, func(t *testing.T, store ConfigStorage) {
		t.Helper()
		if os.Getenv("REDIS_URL") != "" {
			t.Skip("shared redis may already hold a config")
		}

		cfg, err := store.GetAll(context.Background())
		require.NoError(t, err)
		require.Equal(t, Default(), cfg)

		val, err := store.GetPluginConfig(context.Background(), "nip-13", map[string]any{"enabled": false})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"enabled": false}, val)
	})
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()

	helperForEachBackend(t, func(t *testing.T, store ConfigStorage) {
		t.Helper()
		ctx := context.Background()

		cfg := Default()
		cfg.Relay.Name = "test relay"
		cfg.Relay.SupportedNIPs = []int{1, 11, 42}
		cfg.Plugins["nip-42"] = map[string]any{"enabled": true}
		require.NoError(t, store.SetAll(ctx, cfg))

		stored, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Equal(t, "test relay", stored.Relay.Name)
		require.Equal(t, []int{1, 11, 42}, stored.Relay.SupportedNIPs)
		require.Equal(t, map[string]any{"enabled": true}, stored.Plugins["nip-42"])

		require.NoError(t, store.SetPluginConfig(ctx, "nip-13", map[string]any{"enabled": true, "minDifficulty": 12}))
		val, err := store.GetPluginConfig(ctx, "nip-13", nil)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"enabled": true, "minDifficulty": float64(12)}, val)

		stored, err = store.GetAll(ctx)
		require.NoError(t, err)
		require.Equal(t, "test relay", stored.Relay.Name)
		require.Contains(t, stored.Plugins, "nip-42")
	})
}

func TestGetAllReturnsCopy(t *testing.T) {
	t.Parallel()

	store := helperOpen(t, &Config{Backend: BackendMemory})
	ctx := context.Background()

	cfg, err := store.GetAll(ctx)
	require.NoError(t, err)
	cfg.Relay.Name = "changed"
	cfg.Plugins["x"] = true

	again, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Default().Relay.Name, again.Relay.Name)
	require.NotContains(t, again.Plugins, "x")
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	first, err := Open(ctx, &Config{Backend: BackendLevelDB, Path: dir})
	require.NoError(t, err)
	require.NoError(t, first.SetPluginConfig(ctx, "nip-09", map[string]any{"enabled": false}))
	require.NoError(t, first.Close())

	second := helperOpen(t, &Config{Backend: BackendLevelDB, Path: dir})
	val, err := second.GetPluginConfig(ctx, "nip-09", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"enabled": false}, val)
}

func TestFileBackendPicksUpExternalEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := helperOpen(t, &Config{Backend: BackendFile, Path: dir})
	ctx := context.Background()
	require.NoError(t, store.SetAll(ctx, Default()))

	edited := `{"plugins":{"nip-45":{"enabled":false}},"relay":{"name":"edited by hand","supported_nips":[1]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configKey+fileExtension), []byte(edited), 0o600))

	require.Eventually(t, func() bool {
		cfg, err := store.GetAll(ctx)

		return err == nil && cfg.Relay.Name == "edited by hand"
	}, 5*time.Second, 20*time.Millisecond)
	val, err := store.GetPluginConfig(ctx, "nip-45", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"enabled": false}, val)
}

func TestCorruptedConfig(t *testing.T) {
	t.Parallel()

	kv := newMemoryKV()
	require.NoError(t, kv.Put(context.Background(), configKey, []byte("{not json")))
	store := newConfigStorage(kv, 0)

	_, err := store.GetAll(context.Background())
	require.ErrorIs(t, err, ErrCorruptedConfig)
	_, err = store.GetPluginConfig(context.Background(), "nip-01", nil)
	require.ErrorIs(t, err, ErrCorruptedConfig)
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newMemoryKV()
	mock := clock.NewMock()
	store := newConfigStorage(kv, time.Minute)
	store.clock = mock

	require.NoError(t, store.SetAll(ctx, Default()))

	// Simulates another relay instance writing to the shared backend.
	require.NoError(t, kv.Put(ctx, configKey, []byte(`{"relay":{"name":"other instance"}}`)))

	cfg, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, Default().Relay.Name, cfg.Relay.Name)

	mock.Add(time.Minute)
	cfg, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "other instance", cfg.Relay.Name)
	require.NotNil(t, cfg.Plugins)
	require.NotNil(t, cfg.Relay.SupportedNIPs)
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), &Config{Backend: "etcd"})
	require.ErrorIs(t, err, ErrUnknownBackend)
	_, err = Open(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnknownBackend)
	_, err = Open(context.Background(), &Config{Backend: BackendFile})
	require.Error(t, err)
}
