// SPDX-License-Identifier: ice License 1.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	stdlibtime "time"

	"github.com/gin-gonic/gin"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ice-blockchain/relay/cfg"
	"github.com/ice-blockchain/relay/database/memory"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/nips"
	"github.com/ice-blockchain/relay/plugin"
	wsserver "github.com/ice-blockchain/relay/server/ws"
	"github.com/ice-blockchain/relay/server/ws/fixture"
	"github.com/ice-blockchain/relay/storage"
)

const (
	testDeadline = 5 * stdlibtime.Second
)

type (
	testServer struct {
		srv     *Server
		storage storage.ConfigStorage
		url     string
	}
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/rcrowley/go-metrics.(*meterArbiter).tick"))
}

func helperNewServer(t *testing.T, cfg *Config, overrides map[string]any) *testServer {
	t.Helper()

	ctx := context.Background()
	cfgStorage, err := storage.Open(ctx, &storage.Config{Backend: storage.BackendMemory})
	require.NoError(t, err)
	for id, val := range overrides {
		require.NoError(t, cfgStorage.SetPluginConfig(ctx, id, val))
	}
	mgr := plugin.NewManager(cfgStorage)
	for _, p := range nips.Builtin(memory.New(), nil) {
		mgr.Register(p)
	}
	require.NoError(t, mgr.SetupAll(ctx))
	if cfg == nil {
		cfg = &Config{WS: wsserver.Config{ReadTimeout: testDeadline, WriteTimeout: testDeadline}}
	}
	srv := New(cfg, mgr, cfgStorage)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		require.NoError(t, srv.ws.Close())
		httpSrv.Close()
		require.NoError(t, cfgStorage.Close())
	})

	return &testServer{srv: srv, storage: cfgStorage, url: httpSrv.URL}
}

func helperDial(t *testing.T, url string) *fixture.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()
	client, err := fixture.NewWebsocketClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	return client
}

// helperExchange sends vals as one message and returns the next n replies.
func helperExchange(t *testing.T, client *fixture.Client, n int, vals ...any) []string {
	t.Helper()

	require.NoError(t, client.Send(vals...))
	out, err := client.ReadMessages(n)
	require.NoError(t, err)

	return out
}

func helperRequireJSON(t *testing.T, expected, actual []string) {
	t.Helper()

	require.Len(t, actual, len(expected), "%v", actual)
	for i := range expected {
		require.JSONEq(t, expected[i], actual[i])
	}
}

func helperSignedEvent(t *testing.T, key string, kind int, content string, tags model.Tags) *model.Event {
	t.Helper()

	ev := &model.Event{Event: nostr.Event{CreatedAt: nostr.Now(), Kind: kind, Tags: tags, Content: content}}
	require.NoError(t, ev.Sign(key))

	return ev
}

func helperOK(t *testing.T, id string, accepted bool, reason string) string {
	t.Helper()

	data, err := json.Marshal([]any{"OK", id, accepted, reason})
	require.NoError(t, err)

	return string(data)
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	relay := helperNewServer(t, nil, nil)
	client := helperDial(t, relay.url+"/ws")
	ev := helperSignedEvent(t, nostr.GeneratePrivateKey(), 1, "hello relay", model.Tags{{"t", "e2e"}})
	data, err := ev.MarshalJSON()
	require.NoError(t, err)

	helperRequireJSON(t, []string{helperOK(t, ev.ID, true, "")}, helperExchange(t, client, 1, "EVENT", ev))
	helperRequireJSON(t, []string{`["EVENT","s1",` + string(data) + `]`, `["EOSE","s1"]`},
		helperExchange(t, client, 2, "REQ", "s1", map[string]any{"#t": []string{"e2e"}}))
	helperRequireJSON(t, []string{`["COUNT","c1",{"count":1}]`}, helperExchange(t, client, 1, "COUNT", "c1", map[string]any{"kinds": []int{1}}))
	helperRequireJSON(t, []string{`["CLOSED","s1","closed by client"]`}, helperExchange(t, client, 1, "CLOSE", "s1"))

	require.NoError(t, client.WriteMessage([]byte(`["EVENT",`)))
	out, err := client.ReadMessages(1)
	require.NoError(t, err)
	helperRequireJSON(t, []string{`["NOTICE","invalid message"]`}, out)

	tampered := *ev
	tampered.Content = "changed"
	helperRequireJSON(t, []string{helperOK(t, ev.ID, false, nips.ReasonIDMismatch)}, helperExchange(t, client, 1, "EVENT", &tampered))

	// The root path upgrades too and sees the same store.
	other := helperDial(t, relay.url)
	helperRequireJSON(t, []string{`["COUNT","c2",{"count":1}]`}, helperExchange(t, other, 1, "COUNT", "c2"))

	resp, err := http.Get(relay.url + "/health") //nolint:noctx // Test.
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.InDelta(t, 2, health["connections"], 0)
}

func TestAuthOverWebsocket(t *testing.T) {
	t.Parallel()

	relay := helperNewServer(t, nil, map[string]any{"nip-42": map[string]any{"requireAuthForPublish": true}})
	client := helperDial(t, relay.url+"/ws")
	key := nostr.GeneratePrivateKey()
	note := helperSignedEvent(t, key, 1, "needs auth", model.Tags{})

	out := helperExchange(t, client, 1, "EVENT", note)
	var challenge []string
	require.NoError(t, json.Unmarshal([]byte(out[0]), &challenge))
	require.Len(t, challenge, 2)
	require.Equal(t, "AUTH", challenge[0])

	relayURL := "ws" + strings.TrimPrefix(relay.url, "http") + "/ws"
	auth := helperSignedEvent(t, key, model.KindClientAuthentication, "", model.Tags{{"relay", relayURL}, {"challenge", challenge[1]}})
	helperRequireJSON(t, []string{helperOK(t, auth.ID, true, "")}, helperExchange(t, client, 1, "AUTH", auth))
	helperRequireJSON(t, []string{helperOK(t, note.ID, true, "")}, helperExchange(t, client, 1, "EVENT", note))
}

func TestRateLimitOverWebsocket(t *testing.T) {
	t.Parallel()

	relay := helperNewServer(t, nil, map[string]any{"rate-limit": map[string]any{"eventsPerMinute": 1, "burst": 0}})
	client := helperDial(t, relay.url+"/ws")
	key := nostr.GeneratePrivateKey()
	first, second := helperSignedEvent(t, key, 1, "first", model.Tags{}), helperSignedEvent(t, key, 1, "second", model.Tags{})

	helperRequireJSON(t, []string{helperOK(t, first.ID, true, "")}, helperExchange(t, client, 1, "EVENT", first))
	helperRequireJSON(t, []string{`["NOTICE","rate-limited"]`}, helperExchange(t, client, 1, "EVENT", second))
	// Other message types are not limited.
	helperRequireJSON(t, []string{`["EOSE","s"]`}, helperExchange(t, client, 1, "REQ", "s", map[string]any{"kinds": []int{30023}}))
}

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgStorage, err := storage.Open(ctx, &storage.Config{Backend: storage.BackendMemory})
	require.NoError(t, err)
	defer func() { require.NoError(t, cfgStorage.Close()) }()
	mgr := plugin.NewManager(cfgStorage)
	require.NoError(t, mgr.SetupAll(ctx))

	srv := New(&Config{Port: 0, ShutdownTimeout: testDeadline}, mgr, cfgStorage)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-stdlibtime.After(testDeadline):
		require.Fail(t, "server did not shut down")
	}
}

func TestConfigFromApplicationYAML(t *testing.T) {
	t.Parallel()

	cfg.MustInit(cfg.DiscoverFiles()...)
	srvCfg := cfg.MustGet[Config]()
	require.Equal(t, uint16(3334), srvCfg.Port)
	require.Equal(t, 60*stdlibtime.Second, srvCfg.WS.ReadTimeout)
	require.Equal(t, 10*stdlibtime.Second, srvCfg.WS.WriteTimeout)
	require.Equal(t, "1.0.0", srvCfg.HTTP.Version)
	require.Empty(t, srvCfg.HTTP.AdminKey)
	require.Equal(t, 10*stdlibtime.Second, srvCfg.ShutdownTimeout)
}
