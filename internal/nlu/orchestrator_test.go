package nlu

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/logging"
	"github.com/handyboss/relay-gateway/internal/provider"
)

type fakeProvider struct {
	name      string
	available bool
	reply     string
	err       error
	delay     time.Duration
	calls     int
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return f.available }

func (f *fakeProvider) Invoke(ctx context.Context, _ provider.Task, _ provider.Payload) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", &provider.Error{Provider: f.name, Kind: provider.KindTimeout, Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func chainOf(entries ...ChainEntry) map[provider.Task][]ChainEntry {
	return map[provider.Task][]ChainEntry{
		provider.TaskTranslate:      entries,
		provider.TaskExtractIntent:  entries,
		provider.TaskDetectLanguage: entries,
	}
}

func translatePayload(text string) provider.Payload {
	return provider.Payload{
		Text:       text,
		SourceLang: langdetect.English,
		TargetLang: langdetect.Spanish,
	}
}

func TestFirstSuccessWins(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: fmt.Errorf("boom")}
	b := &fakeProvider{name: "b", available: true, reply: "X"}
	c := &fakeProvider{name: "c", available: true, reply: "never"}

	o := New(chainOf(
		ChainEntry{Provider: a, Timeout: time.Second},
		ChainEntry{Provider: b, Timeout: time.Second},
		ChainEntry{Provider: c, Timeout: time.Second},
	), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("hello"))
	assert.Equal(t, "b", res.Provider)
	require.NotNil(t, res.Translation)
	assert.Equal(t, "X", res.Translation.Translated)
	assert.False(t, res.Degraded)
	assert.Equal(t, 0, c.calls, "providers after the first success must not be invoked")
	assert.Len(t, res.Attempts, 1)
}

func TestUnavailableProviderSkipped(t *testing.T) {
	down := &fakeProvider{name: "down", available: false, delay: time.Hour}
	up := &fakeProvider{name: "up", available: true, reply: "hola"}

	o := New(chainOf(
		ChainEntry{Provider: down, Timeout: 50 * time.Millisecond},
		ChainEntry{Provider: up, Timeout: time.Second},
	), logging.WithComponent("test"))

	start := time.Now()
	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("hello"))
	assert.Equal(t, "up", res.Provider)
	assert.Equal(t, 0, down.calls)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "skipping must not consume the timeout slot")
}

func TestTimeoutAdvancesChain(t *testing.T) {
	slow := &fakeProvider{name: "slow", available: true, reply: "late", delay: time.Second}
	fast := &fakeProvider{name: "fast", available: true, reply: "hola"}

	o := New(chainOf(
		ChainEntry{Provider: slow, Timeout: 10 * time.Millisecond},
		ChainEntry{Provider: fast, Timeout: time.Second},
	), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("hello"))
	assert.Equal(t, "fast", res.Provider)
	assert.Len(t, res.Attempts, 1)
}

func TestTotalityWithAllCloudProvidersDown(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, err: fmt.Errorf("503")}
	b := &fakeProvider{name: "b", available: false}

	o := New(chainOf(
		ChainEntry{Provider: a, Timeout: 20 * time.Millisecond},
		ChainEntry{Provider: b, Timeout: 20 * time.Millisecond},
		ChainEntry{Provider: provider.NewFallback()},
	), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskTranslate,
		translatePayload("I will be late to the Downtown Renovation"))
	assert.Equal(t, provider.FallbackName, res.Provider)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.Translation)
	assert.Equal(t, "Llegaré tarde a la Renovación del Centro", res.Translation.Translated)
}

func TestEchoedTranslationMarkedDegradedNotRetried(t *testing.T) {
	echo := &fakeProvider{name: "echo", available: true, reply: "Hello"}
	next := &fakeProvider{name: "next", available: true, reply: "hola"}

	o := New(chainOf(
		ChainEntry{Provider: echo, Timeout: time.Second},
		ChainEntry{Provider: next, Timeout: time.Second},
	), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("hello"))
	assert.Equal(t, "echo", res.Provider)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0, next.calls)
}

func TestEmptyInputShortCircuits(t *testing.T) {
	a := &fakeProvider{name: "a", available: true, reply: "x"}
	o := New(chainOf(ChainEntry{Provider: a, Timeout: time.Second}), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("   "))
	assert.Equal(t, 0, a.calls)
	require.NotNil(t, res.Translation)
	assert.Equal(t, "   ", res.Translation.Translated)
}

func TestIntentParseFailureAdvances(t *testing.T) {
	bad := &fakeProvider{name: "bad", available: true, reply: `{"no":"intent"}`}
	good := &fakeProvider{name: "good", available: true, reply: `{"intent":"request","action":"send cement","entities":["cement"],"priority":"medium","jobsiteRelevant":true,"requiresResponse":true}`}

	o := New(chainOf(
		ChainEntry{Provider: bad, Timeout: time.Second},
		ChainEntry{Provider: good, Timeout: time.Second},
	), logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskExtractIntent, provider.Payload{Text: "we need cement"})
	require.NotNil(t, res.Intent)
	assert.Equal(t, "request", res.Intent.Intent)
	assert.Equal(t, "good", res.Intent.Source)
}

func TestDetectChain(t *testing.T) {
	cfgLang := langdetect.New(langdetect.English)
	o := New(map[provider.Task][]ChainEntry{
		provider.TaskDetectLanguage: {
			{Provider: &heuristicDetector{d: cfgLang}},
			{Provider: provider.NewFallback()},
		},
	}, logging.WithComponent("test"))

	res := o.Run(context.Background(), provider.TaskDetectLanguage, provider.Payload{Text: "¿Dónde está el cemento?"})
	assert.Equal(t, langdetect.Spanish, res.Language)
	assert.Equal(t, "heuristic-detect", res.Provider)
}

func TestRunNeverPanicsOnExhaustedChain(t *testing.T) {
	o := New(map[provider.Task][]ChainEntry{}, logging.WithComponent("test"))
	res := o.Run(context.Background(), provider.TaskTranslate, translatePayload("hello"))
	require.NotNil(t, res.Translation)
	assert.Equal(t, "hello", res.Translation.Translated)
}
