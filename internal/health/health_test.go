package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/logging"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/provider"
	"github.com/handyboss/relay-gateway/internal/relay"
	"github.com/handyboss/relay-gateway/internal/storage"
)

func testProviders(localURL string) *nlu.Providers {
	return &nlu.Providers{
		OpenAI:    provider.NewOpenAIClient(provider.OpenAIConfig{}),
		Anthropic: provider.NewAnthropicClient(provider.AnthropicConfig{}),
		Local:     provider.NewLocalClient(provider.LocalConfig{URL: localURL}),
		Fallback:  provider.NewFallback(),
	}
}

func TestSweepTracksLocalHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sidecar.Close)

	logger := logging.WithComponent("health-test")
	providers := testProviders(sidecar.URL)
	hub := relay.NewHub(config.RelayConfig{PingInterval: "1s", PongTimeout: "5s", SendBuffer: 8}, logger)
	svc, err := New(providers, storage.NewMemory(), hub, nil, "", logger)
	require.NoError(t, err)

	svc.sweep(context.Background())
	assert.True(t, providers.Local.Available())

	healthy.Store(false)
	svc.sweep(context.Background())
	assert.False(t, providers.Local.Available())
}

func TestNewRejectsBadSchedule(t *testing.T) {
	logger := logging.WithComponent("health-test")
	hub := relay.NewHub(config.RelayConfig{PingInterval: "1s", PongTimeout: "5s", SendBuffer: 8}, logger)
	_, err := New(testProviders(""), storage.NewMemory(), hub, nil, "not a schedule", logger)
	assert.Error(t, err)
}

func TestWeatherAlertBroadcast(t *testing.T) {
	logger := logging.WithComponent("health-test")
	store := storage.NewMemory()
	store.SeedAlert(storage.WeatherAlert{
		ID: "a-1", Severity: "high", Message: "storm approaching", CreatedAt: time.Now(),
	})

	hub := relay.NewHub(config.RelayConfig{PingInterval: "1s", PongTimeout: "5s", SendBuffer: 8}, logger)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.CloseAll)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	svc, err := New(testProviders(""), store, hub, nil, "", logger)
	require.NoError(t, err)
	svc.broadcastWeatherAlerts()

	var env relay.WeatherAlertEnvelope
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, relay.KindWeatherAlert, env.Kind)
	require.Len(t, env.Alerts, 1)
	assert.Equal(t, "storm approaching", env.Alerts[0].Message)
}

func TestEmptyAlertListSkipsBroadcast(t *testing.T) {
	logger := logging.WithComponent("health-test")
	hub := relay.NewHub(config.RelayConfig{PingInterval: "1s", PongTimeout: "5s", SendBuffer: 8}, logger)
	svc, err := New(testProviders(""), storage.NewMemory(), hub, nil, "@every 1h", logger)
	require.NoError(t, err)

	// nothing seeded; must be a quiet no-op
	svc.broadcastWeatherAlerts()
}
