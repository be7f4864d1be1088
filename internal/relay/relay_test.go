package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/logging"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/provider"
	"github.com/handyboss/relay-gateway/internal/storage"
)

// delayedEcho translates by prefixing, waiting per-text first. It lets
// tests make the first message slower than the second.
type delayedEcho struct {
	mu     sync.Mutex
	delays map[string]time.Duration
}

func (d *delayedEcho) Name() string    { return "test-echo" }
func (d *delayedEcho) Available() bool { return true }

func (d *delayedEcho) Invoke(ctx context.Context, task provider.Task, p provider.Payload) (string, error) {
	if task == provider.TaskExtractIntent {
		return `{"intent":"information","action":"noted","entities":[],"priority":"low","jobsiteRelevant":false,"requiresResponse":false}`, nil
	}
	d.mu.Lock()
	delay := d.delays[p.Text]
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "tx:" + p.Text, nil
}

type testRig struct {
	hub   *Hub
	store *storage.Memory
	srv   *httptest.Server
	echo  *delayedEcho
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	echo := &delayedEcho{delays: map[string]time.Duration{}}
	chains := map[provider.Task][]nlu.ChainEntry{
		provider.TaskTranslate: {
			{Provider: echo, Timeout: 2 * time.Second},
			{Provider: provider.NewFallback()},
		},
		provider.TaskExtractIntent: {
			{Provider: echo, Timeout: 2 * time.Second},
			{Provider: provider.NewFallback()},
		},
	}
	logger := logging.WithComponent("relay-test")
	orch := nlu.New(chains, logger)
	store := storage.NewMemory()
	hub := NewHub(config.RelayConfig{PingInterval: "1s", PongTimeout: "5s", SendBuffer: 32}, logger)
	langs := config.LanguagesConfig{Primary: "en", Secondary: "es", Default: "en"}
	NewProtocol(orch, store, nil, langdetect.New(langdetect.English), langs, hub, logger)

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

	return &testRig{hub: hub, store: store, srv: srv, echo: echo}
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// consume the welcome greeting
	var welcome map[string]any
	require.NoError(t, ws.ReadJSON(&welcome))
	require.Equal(t, KindWelcome, welcome["kind"])
	return ws
}

func TestChatMessageRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	ws := rig.dial(t)

	require.NoError(t, ws.WriteJSON(Inbound{
		Kind: KindChatMessage, Text: "we need more cement", Role: RoleBoss,
		CorrelationID: "c-1",
	}))

	var resp ChatResponse
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, KindChatResponse, resp.Kind)
	assert.Equal(t, "we need more cement", resp.Text)
	assert.Equal(t, "tx:we need more cement", resp.TranslatedText)
	assert.Equal(t, langdetect.English, resp.SourceLanguage)
	assert.Equal(t, langdetect.Spanish, resp.TargetLanguage)
	assert.Equal(t, "c-1", resp.CorrelationID)

	msgs := rig.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "we need more cement", msgs[0].Original)
}

func TestPerConnectionOrdering(t *testing.T) {
	rig := newTestRig(t)
	rig.echo.delays["first message"] = 150 * time.Millisecond
	ws := rig.dial(t)

	require.NoError(t, ws.WriteJSON(Inbound{Kind: KindChatMessage, Text: "first message", Role: RoleBoss}))
	require.NoError(t, ws.WriteJSON(Inbound{Kind: KindChatMessage, Text: "second message", Role: RoleBoss}))

	var first, second ChatResponse
	require.NoError(t, ws.ReadJSON(&first))
	require.NoError(t, ws.ReadJSON(&second))
	assert.Equal(t, "first message", first.Text)
	assert.Equal(t, "second message", second.Text)

	msgs := rig.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first message", msgs[0].Original, "persisted order must match send order")
	assert.Equal(t, "second message", msgs[1].Original)
}

func TestConcurrentConnectionIsolation(t *testing.T) {
	rig := newTestRig(t)
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := "ws" + strings.TrimPrefix(rig.srv.URL, "http")
			ws, _, err := websocket.DefaultDialer.Dial(url, nil)
			if !assert.NoError(t, err) {
				return
			}
			defer ws.Close()

			var welcome map[string]any
			if !assert.NoError(t, ws.ReadJSON(&welcome)) {
				return
			}

			corr := fmt.Sprintf("corr-%d", i)
			if !assert.NoError(t, ws.WriteJSON(Inbound{
				Kind: KindChatMessage, Text: fmt.Sprintf("message %d", i),
				Role: RoleBoss, CorrelationID: corr,
			})) {
				return
			}

			var resp ChatResponse
			if !assert.NoError(t, ws.ReadJSON(&resp)) {
				return
			}
			assert.Equal(t, corr, resp.CorrelationID, "reply must reach its own sender")
			assert.Equal(t, fmt.Sprintf("message %d", i), resp.Text)
		}(i)
	}
	wg.Wait()
}

func TestCommandBroadcastsToOthers(t *testing.T) {
	rig := newTestRig(t)
	sender := rig.dial(t)
	watcher := rig.dial(t)

	require.NoError(t, sender.WriteJSON(Inbound{Kind: KindCommand, Text: "order more cement"}))

	var ack CommandResponse
	require.NoError(t, sender.ReadJSON(&ack))
	assert.Equal(t, KindCommandResponse, ack.Kind)
	assert.NotEmpty(t, ack.CommandID)

	var update CommandUpdate
	watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, watcher.ReadJSON(&update))
	assert.Equal(t, KindCommandUpdate, update.Kind)
	assert.Equal(t, "order more cement", update.Command.Text)

	require.Len(t, rig.store.Commands(), 1)
}

func TestMalformedJSONKeepsConnectionOpen(t *testing.T) {
	rig := newTestRig(t)
	ws := rig.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	var errEnv ErrorEnvelope
	require.NoError(t, ws.ReadJSON(&errEnv))
	assert.Equal(t, KindError, errEnv.Kind)

	// the connection survives and keeps working
	require.NoError(t, ws.WriteJSON(Inbound{Kind: KindChatMessage, Text: "still here", Role: RoleBoss}))
	var resp ChatResponse
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "tx:still here", resp.TranslatedText)
}

func TestUnknownKindGetsErrorEnvelope(t *testing.T) {
	rig := newTestRig(t)
	ws := rig.dial(t)

	require.NoError(t, ws.WriteJSON(map[string]string{"kind": "shout", "text": "hey"}))
	var errEnv ErrorEnvelope
	require.NoError(t, ws.ReadJSON(&errEnv))
	assert.Equal(t, KindError, errEnv.Kind)
	assert.Contains(t, errEnv.Message, "unknown envelope kind")
}

func TestGracefulDisconnectMidFlight(t *testing.T) {
	rig := newTestRig(t)
	rig.echo.delays["slow goodbye"] = 200 * time.Millisecond
	ws := rig.dial(t)

	require.NoError(t, ws.WriteJSON(Inbound{Kind: KindChatMessage, Text: "slow goodbye", Role: RoleBoss}))
	time.Sleep(20 * time.Millisecond)
	ws.Close()

	// the in-flight result is computed, persisted and then dropped on
	// delivery; nothing panics and the hub forgets the connection
	assert.Eventually(t, func() bool {
		return len(rig.store.Messages()) == 1 && rig.hub.Count() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLanguageMismatchUsesDetected(t *testing.T) {
	rig := newTestRig(t)
	ws := rig.dial(t)

	// boss role but clearly Spanish text: detector overrides the role default
	require.NoError(t, ws.WriteJSON(Inbound{
		Kind: KindChatMessage, Text: "¿Dónde está el cemento?", Role: RoleBoss,
	}))

	var resp ChatResponse
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, langdetect.Spanish, resp.SourceLanguage)
	assert.Equal(t, langdetect.English, resp.TargetLanguage)
}
