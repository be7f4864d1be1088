package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handyboss/relay-gateway/internal/langdetect"
)

func newChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(openAIResponse{
			Model: "gpt-4o-mini",
			Choices: []choice{
				{Message: chatMessage{Role: "assistant", Content: reply}},
			},
		})
	}))
}

func TestOpenAITranslate(t *testing.T) {
	srv := newChatServer(t, "Llegaré tarde")
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	out, err := c.Invoke(context.Background(), TaskTranslate, Payload{
		Text:       "I will be late",
		SourceLang: langdetect.English,
		TargetLang: langdetect.Spanish,
	})
	require.NoError(t, err)
	assert.Equal(t, "Llegaré tarde", out)
}

func TestOpenAIIntentExtractsEmbeddedJSON(t *testing.T) {
	srv := newChatServer(t, "Here you go: {\"intent\":\"request\",\"priority\":\"medium\"}")
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	out, err := c.Invoke(context.Background(), TaskExtractIntent, Payload{Text: "we need more cement"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"request","priority":"medium"}`, out)
}

func TestOpenAIUnavailableWithoutKey(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{})
	assert.False(t, c.Available())

	_, err := c.Invoke(context.Background(), TaskTranslate, Payload{Text: "hi"})
	perr := &Error{}
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnavailable, perr.Kind)
}

func TestOpenAITimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, TaskTranslate, Payload{Text: "hi"})
	perr := &Error{}
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
}

type slowProvider struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *slowProvider) Name() string    { return "slow" }
func (s *slowProvider) Available() bool { return true }

func (s *slowProvider) Invoke(ctx context.Context, _ Task, _ Payload) (string, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return "ok", nil
}

func TestLimitCapsConcurrency(t *testing.T) {
	inner := &slowProvider{}
	p := Limit(inner, 2)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p.Invoke(context.Background(), TaskTranslate, Payload{Text: "x"})
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, inner.peak.Load(), int32(2))
}

func TestLimitRespectsContext(t *testing.T) {
	inner := &slowProvider{}
	p := Limit(inner, 1)

	// occupy the only slot
	go p.Invoke(context.Background(), TaskTranslate, Payload{Text: "x"})
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err := p.Invoke(ctx, TaskTranslate, Payload{Text: "y"})
	perr := &Error{}
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
}
