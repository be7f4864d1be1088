package nlu

import (
	"context"
	"log/slog"
	"time"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/provider"
)

const defaultMaxConcurrent = 4

// heuristicDetector adapts the lexical detector to the provider
// contract so it can sit in the detect-language chain.
type heuristicDetector struct {
	d *langdetect.Detector
}

func (h *heuristicDetector) Name() string    { return "heuristic-detect" }
func (h *heuristicDetector) Available() bool { return true }

func (h *heuristicDetector) Invoke(_ context.Context, _ provider.Task, p provider.Payload) (string, error) {
	return string(h.d.Detect(p.Text)), nil
}

// Providers bundles the constructed adapters so other components (the
// health sweep, the status endpoint) can reach them by role.
type Providers struct {
	OpenAI    *provider.OpenAIClient
	Anthropic *provider.AnthropicClient
	Local     *provider.LocalClient
	Fallback  *provider.Fallback
}

// Status reports each adapter's current availability.
func (p *Providers) Status() map[string]bool {
	return map[string]bool{
		p.OpenAI.Name():    p.OpenAI.Available(),
		p.Anthropic.Name(): p.Anthropic.Available(),
		p.Local.Name():     p.Local.Available(),
		p.Fallback.Name():  p.Fallback.Available(),
	}
}

// Build constructs the adapters and task-specific chains from config
// and returns the orchestrator over them. Every chain terminates in
// the deterministic fallback, which is what makes Run total.
func Build(cfg *config.Config, detector *langdetect.Detector, logger *slog.Logger) (*Orchestrator, *Providers) {
	p := &Providers{
		OpenAI: provider.NewOpenAIClient(provider.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Model:   cfg.Providers.OpenAI.Model,
		}),
		Anthropic: provider.NewAnthropicClient(provider.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Model:   cfg.Providers.Anthropic.Model,
		}),
		Local:    provider.NewLocalClient(provider.LocalConfig{URL: cfg.Providers.Local.URL}),
		Fallback: provider.NewFallback(),
	}

	openai := entry(p.OpenAI, cfg.Providers.OpenAI.GetTimeout(), cfg.Providers.OpenAI.MaxConcurrent)
	anthropic := entry(p.Anthropic, cfg.Providers.Anthropic.GetTimeout(), cfg.Providers.Anthropic.MaxConcurrent)
	local := entry(p.Local, cfg.Providers.Local.GetTimeout(), cfg.Providers.Local.MaxConcurrent)
	fallback := ChainEntry{Provider: p.Fallback}

	chains := map[provider.Task][]ChainEntry{
		provider.TaskTranslate:           {openai, anthropic, local, fallback},
		provider.TaskExtractIntent:       {openai, anthropic, local, fallback},
		provider.TaskDetectLanguage:      {{Provider: &heuristicDetector{d: detector}}, fallback},
		provider.TaskAnalyzeConversation: {openai, anthropic, local, fallback},
	}

	return New(chains, logger), p
}

func entry(p provider.Provider, timeout time.Duration, maxConcurrent int) ChainEntry {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return ChainEntry{Provider: provider.Limit(p, maxConcurrent), Timeout: timeout}
}
