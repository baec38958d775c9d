// SPDX-License-Identifier: ice License 1.0

package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/storage"
)

type testConfig struct {
	Words   []string `json:"words"`
	Limit   int      `json:"limit"`
	Enabled bool     `json:"enabled"`
}

func (c *testConfig) Validate() error {
	if c.Limit > 100 {
		return errors.New("limit is too high")
	}

	return nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/rcrowley/go-metrics.(*meterArbiter).tick"))
}

func helperNewManager(t *testing.T) (*Manager, storage.ConfigStorage) {
	t.Helper()

	cfgStorage, err := storage.Open(context.Background(), &storage.Config{Backend: storage.BackendMemory})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cfgStorage.Close()) })

	return NewManager(cfgStorage), cfgStorage
}

func helperConfigurablePlugin(id string) *Plugin {
	return &Plugin{
		ID:  id,
		NIP: 1,
		NewConfig: func() any {
			return &testConfig{Enabled: true, Limit: 1, Words: []string{"a"}}
		},
		Schema: Schema{
			"type": "object",
			"properties": map[string]any{
				"limit":   map[string]any{"type": "integer", "minimum": 0},
				"enabled": map[string]any{"type": "boolean"},
				"words":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		Setup: func(context.Context, *Context) error { return nil },
	}
}

func helperRecorder() (*Connection, *[]nostr.Envelope) {
	var sent []nostr.Envelope

	return NewConnection("conn", "ws://localhost:3334", func(env nostr.Envelope) error {
		sent = append(sent, env)

		return nil
	}), &sent
}

func helperHandlerPlugin(id string, order *[]string, claim bool) *Plugin {
	return &Plugin{
		ID: id,
		Setup: func(_ context.Context, pctx *Context) error {
			pctx.RegisterMessageHandler(func(context.Context, *Connection, model.Message) (bool, error) {
				*order = append(*order, id)

				return claim, nil
			})

			return nil
		},
	}
}

func TestDispatchOrder(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	var order []string
	mgr.Register(helperHandlerPlugin("first", &order, false))
	mgr.Register(&Plugin{
		ID:    "hook",
		Setup: func(context.Context, *Context) error { return nil },
		OnMessage: func(context.Context, *Connection, model.Message) (bool, error) {
			order = append(order, "hook")

			return true, nil
		},
	})
	mgr.Register(helperHandlerPlugin("second", &order, false))
	mgr.Register(helperHandlerPlugin("third", &order, true))
	mgr.Register(helperHandlerPlugin("never", &order, true))
	require.NoError(t, mgr.SetupAll(context.Background()))

	conn, _ := helperRecorder()
	handled, err := mgr.OnMessage(context.Background(), conn, &model.CloseMessage{SubscriptionID: "s"})
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, []string{"first", "second", "third"}, order)

	stats := mgr.Stats()
	require.Equal(t, int64(1), stats["claims/third"]["count"])
	require.Equal(t, int64(1), stats["messages/CLOSE"]["count"])
	require.Equal(t, int64(1), stats["dispatch"]["count"])
}

func TestDispatchFallsBackToHooks(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	var order []string
	mgr.Register(helperHandlerPlugin("global", &order, false))
	mgr.Register(&Plugin{
		ID:    "hook",
		Setup: func(context.Context, *Context) error { return nil },
		OnMessage: func(context.Context, *Connection, model.Message) (bool, error) {
			order = append(order, "hook")

			return true, nil
		},
	})
	require.NoError(t, mgr.SetupAll(context.Background()))

	conn, _ := helperRecorder()
	handled, err := mgr.OnMessage(context.Background(), conn, &model.CloseMessage{SubscriptionID: "s"})
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, []string{"global", "hook"}, order)
	require.Equal(t, int64(1), mgr.Stats()["claims/hook"]["count"])
}

func TestDispatchUnclaimed(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	var order []string
	mgr.Register(helperHandlerPlugin("global", &order, false))
	require.NoError(t, mgr.SetupAll(context.Background()))

	conn, sent := helperRecorder()
	handled, err := mgr.OnMessage(context.Background(), conn, &model.CloseMessage{SubscriptionID: "s"})
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, *sent)
	require.Equal(t, int64(1), mgr.Stats()["unclaimed"]["count"])
}

func TestDispatchError(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	errBackend := errors.New("backend down")
	var order []string
	mgr.Register(&Plugin{
		ID: "failing",
		Setup: func(_ context.Context, pctx *Context) error {
			pctx.RegisterMessageHandler(func(context.Context, *Connection, model.Message) (bool, error) {
				return false, errBackend
			})

			return nil
		},
	})
	mgr.Register(helperHandlerPlugin("after", &order, true))
	require.NoError(t, mgr.SetupAll(context.Background()))

	conn, _ := helperRecorder()
	handled, err := mgr.OnMessage(context.Background(), conn, &model.CloseMessage{SubscriptionID: "s"})
	require.ErrorIs(t, err, errBackend)
	require.False(t, handled)
	require.Empty(t, order)
}

func TestSetupAllFailFast(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	errSetup := errors.New("setup failed")
	var called []string
	for _, id := range []string{"a", "b", "c"} {
		mgr.Register(&Plugin{ID: id, Setup: func(context.Context, *Context) error {
			called = append(called, id)
			if id == "b" {
				return errSetup
			}

			return nil
		}})
	}
	require.ErrorIs(t, mgr.SetupAll(context.Background()), errSetup)
	require.Equal(t, []string{"a", "b"}, called)
}

func TestSetupAllRejectsBadPlugins(t *testing.T) {
	t.Parallel()

	t.Run("duplicate", func(t *testing.T) {
		t.Parallel()

		mgr, _ := helperNewManager(t)
		mgr.Register(helperConfigurablePlugin("p"))
		mgr.Register(helperConfigurablePlugin("p"))
		require.ErrorIs(t, mgr.SetupAll(context.Background()), ErrDuplicatePlugin)
	})
	t.Run("no setup", func(t *testing.T) {
		t.Parallel()

		mgr, _ := helperNewManager(t)
		mgr.Register(&Plugin{ID: "p"})
		require.ErrorIs(t, mgr.SetupAll(context.Background()), ErrNoSetup)
	})
	t.Run("invalid persisted config", func(t *testing.T) {
		t.Parallel()

		mgr, cfgStorage := helperNewManager(t)
		require.NoError(t, cfgStorage.SetPluginConfig(context.Background(), "p", map[string]any{"limit": "many"}))
		mgr.Register(helperConfigurablePlugin("p"))
		require.ErrorIs(t, mgr.SetupAll(context.Background()), ErrInvalidConfig)
	})
}

func TestConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, cfgStorage := helperNewManager(t)
	mgr.Register(helperConfigurablePlugin("p"))
	require.NoError(t, mgr.SetupAll(ctx))
	pctx := mgr.Context("p")

	defaults, err := Config[testConfig](ctx, pctx)
	require.NoError(t, err)
	require.Equal(t, &testConfig{Enabled: true, Limit: 1, Words: []string{"a"}}, defaults)

	again, err := Config[testConfig](ctx, pctx)
	require.NoError(t, err)
	require.Same(t, defaults, again)

	require.NoError(t, pctx.SetConfig(ctx, map[string]any{"limit": 7, "words": []string{"x", "y"}}))
	updated, err := Config[testConfig](ctx, pctx)
	require.NoError(t, err)
	require.Equal(t, &testConfig{Enabled: true, Limit: 7, Words: []string{"x", "y"}}, updated)
	require.Equal(t, []string{"a"}, defaults.Words)

	require.NoError(t, cfgStorage.SetPluginConfig(ctx, "p", map[string]any{"limit": -1}))
	_, err = Config[testConfig](ctx, pctx)
	require.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, cfgStorage.SetPluginConfig(ctx, "p", map[string]any{"limit": 101}))
	_, err = Config[testConfig](ctx, pctx)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Config[struct{}](ctx, pctx)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	mgr.Register(helperConfigurablePlugin("p1"))
	mgr.Register(helperConfigurablePlugin("p2"))
	mgr.Register(helperConfigurablePlugin("p3"))

	cfg := storage.Default()
	cfg.Plugins["p1"] = map[string]any{"limit": 5}
	require.NoError(t, mgr.ValidateConfig(context.Background(), cfg))

	cfg.Plugins["p2"] = map[string]any{"limit": 500}
	cfg.Plugins["p3"] = map[string]any{"enabled": "definitely"}
	err := mgr.ValidateConfig(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorContains(t, err, "p2")
	require.ErrorContains(t, err, "p3")
}

func TestSupportedNIPsAndSchemas(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	for id, nip := range map[string]int{"rate-limit": 0, "nip-42": 42, "nip-ee": 445, "nip-01": 1, "nip-22": 22, "nip-01-copy": 1} {
		mgr.Register(&Plugin{ID: id, NIP: nip, Setup: func(context.Context, *Context) error { return nil }})
	}
	mgr.Register(helperConfigurablePlugin("configurable"))
	require.Equal(t, []int{1, 22, 42}, mgr.SupportedNIPs())

	schemas := mgr.AdminSchemas()
	require.Len(t, schemas, 7)
	require.Nil(t, schemas["nip-42"])
	require.Equal(t, "object", schemas["configurable"]["type"])
}

func TestFetch(t *testing.T) {
	t.Parallel()

	mgr, _ := helperNewManager(t)
	var order []string
	for _, id := range []string{"skip", "serve", "never"} {
		mgr.Register(&Plugin{
			ID:    id,
			Setup: func(context.Context, *Context) error { return nil },
			Fetch: func(w http.ResponseWriter, _ *http.Request) bool {
				order = append(order, id)
				if id == "skip" {
					return false
				}
				w.WriteHeader(http.StatusTeapot)

				return true
			},
		})
	}
	mgr.Register(&Plugin{ID: "no-fetch", Setup: func(context.Context, *Context) error { return nil }})

	rec := httptest.NewRecorder()
	require.True(t, mgr.Fetch(rec, httptest.NewRequest(http.MethodGet, "/anything", http.NoBody)))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, []string{"skip", "serve"}, order)
}
