// Package nlu runs the provider chains. The orchestrator is the relay's
// central guarantee: given any task and payload it always produces a
// usable Result, absorbing every provider failure along the way. Nothing
// above this package ever sees a provider error.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/metrics"
	"github.com/handyboss/relay-gateway/internal/provider"
)

// TranslationOutcome is the normalized result of a translate task.
type TranslationOutcome struct {
	Original       string              `json:"original"`
	Translated     string              `json:"translated"`
	SourceLanguage langdetect.Language `json:"sourceLanguage"`
	TargetLanguage langdetect.Language `json:"targetLanguage"`
	Provider       string              `json:"provider"`
	Degraded       bool                `json:"degraded"`
}

// IntentResult is the normalized result of an extract-intent task.
type IntentResult struct {
	Intent           string   `json:"intent"`
	Action           string   `json:"action"`
	Entities         []string `json:"entities"`
	Priority         string   `json:"priority"`
	JobsiteRelevant  bool     `json:"jobsiteRelevant"`
	RequiresResponse bool     `json:"requiresResponse"`
	Source           string   `json:"source,omitempty"`
}

// ConversationAnalysis is the normalized result of an
// analyze-conversation task.
type ConversationAnalysis struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Source      string   `json:"source,omitempty"`
}

// Attempt records one failed or skipped provider in a run.
type Attempt struct {
	Provider string
	Err      error
}

// Result is what Run always returns. Exactly one of the task-specific
// fields is populated, matching Task.
type Result struct {
	Task     provider.Task
	Provider string
	Degraded bool

	Translation *TranslationOutcome
	Intent      *IntentResult
	Language    langdetect.Language
	Analysis    *ConversationAnalysis

	Attempts []Attempt
}

// ChainEntry pairs a provider with its invocation timeout. A zero
// timeout means the provider needs none (the deterministic fallback).
type ChainEntry struct {
	Provider provider.Provider
	Timeout  time.Duration
}

// Orchestrator executes task-specific provider chains.
type Orchestrator struct {
	chains map[provider.Task][]ChainEntry
	logger *slog.Logger
}

// New creates an orchestrator over the given chains.
func New(chains map[provider.Task][]ChainEntry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{chains: chains, logger: logger}
}

// Run walks the task's chain in order: unavailable adapters are
// skipped, each call gets its own timeout, the first success wins and
// nothing after it is tried. Run never returns an error; the terminal
// fallback in every chain cannot fail, and even a misconfigured chain
// degrades to an identity result rather than surfacing one.
func (o *Orchestrator) Run(ctx context.Context, task provider.Task, p provider.Payload) Result {
	if strings.TrimSpace(p.Text) == "" && p.Context == "" {
		return o.identityResult(task, p, nil)
	}

	var attempts []Attempt
	for _, entry := range o.chains[task] {
		name := entry.Provider.Name()
		if !entry.Provider.Available() {
			attempts = append(attempts, Attempt{Provider: name, Err: &provider.Error{Provider: name, Kind: provider.KindUnavailable}})
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if entry.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		}

		start := time.Now()
		raw, err := entry.Provider.Invoke(callCtx, task, p)
		if cancel != nil {
			cancel()
		}
		metrics.ProviderLatency.WithLabelValues(name, string(task)).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.ProviderCalls.WithLabelValues(name, string(task), "error").Inc()
			o.logger.Warn("provider failed, advancing chain",
				"provider", name, "task", string(task), "error", err)
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}

		res, err := o.normalize(task, name, raw, p)
		if err != nil {
			metrics.ProviderCalls.WithLabelValues(name, string(task), "parse_error").Inc()
			o.logger.Warn("provider output failed normalization, advancing chain",
				"provider", name, "task", string(task), "error", err)
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}

		metrics.ProviderCalls.WithLabelValues(name, string(task), "success").Inc()
		res.Attempts = attempts
		if res.Degraded {
			metrics.DegradedResults.Inc()
		}
		return res
	}

	// Chains end with the fallback, which cannot fail; reaching this
	// point means the chain was assembled without one.
	o.logger.Error("provider chain exhausted without terminal fallback", "task", string(task))
	metrics.DegradedResults.Inc()
	return o.identityResult(task, p, attempts)
}

func (o *Orchestrator) normalize(task provider.Task, name, raw string, p provider.Payload) (Result, error) {
	res := Result{Task: task, Provider: name}
	switch task {
	case provider.TaskTranslate:
		// A provider that merely echoed the input produced nothing of
		// value; keep the reply but flag it rather than retrying, to
		// bound latency.
		degraded := name == provider.FallbackName || strings.EqualFold(raw, p.Text)
		res.Degraded = degraded
		res.Translation = &TranslationOutcome{
			Original:       p.Text,
			Translated:     raw,
			SourceLanguage: p.SourceLang,
			TargetLanguage: p.TargetLang,
			Provider:       name,
			Degraded:       degraded,
		}
	case provider.TaskDetectLanguage:
		lang, err := parseLanguage(raw)
		if err != nil {
			return Result{}, &provider.Error{Provider: name, Kind: provider.KindParse, Err: err}
		}
		res.Language = lang
	case provider.TaskExtractIntent:
		var intent IntentResult
		if err := json.Unmarshal([]byte(raw), &intent); err != nil {
			return Result{}, &provider.Error{Provider: name, Kind: provider.KindParse, Err: err}
		}
		if intent.Intent == "" {
			return Result{}, &provider.Error{Provider: name, Kind: provider.KindParse, Err: fmt.Errorf("missing intent field")}
		}
		intent.Source = name
		if intent.Entities == nil {
			intent.Entities = []string{}
		}
		res.Degraded = name == provider.FallbackName
		res.Intent = &intent
	case provider.TaskAnalyzeConversation:
		var analysis ConversationAnalysis
		if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
			return Result{}, &provider.Error{Provider: name, Kind: provider.KindParse, Err: err}
		}
		analysis.Source = name
		res.Degraded = name == provider.FallbackName
		res.Analysis = &analysis
	default:
		return Result{}, &provider.Error{Provider: name, Kind: provider.KindParse, Err: fmt.Errorf("unknown task %q", task)}
	}
	return res, nil
}

func parseLanguage(raw string) (langdetect.Language, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if len(code) > 2 {
		code = code[:2]
	}
	switch langdetect.Language(code) {
	case langdetect.English:
		return langdetect.English, nil
	case langdetect.Spanish:
		return langdetect.Spanish, nil
	default:
		return "", fmt.Errorf("unrecognized language code %q", raw)
	}
}

// identityResult is the last-resort (and empty-input) result: the text
// comes back unchanged.
func (o *Orchestrator) identityResult(task provider.Task, p provider.Payload, attempts []Attempt) Result {
	res := Result{Task: task, Provider: provider.FallbackName, Attempts: attempts}
	switch task {
	case provider.TaskTranslate:
		res.Translation = &TranslationOutcome{
			Original:       p.Text,
			Translated:     p.Text,
			SourceLanguage: p.SourceLang,
			TargetLanguage: p.TargetLang,
			Provider:       provider.FallbackName,
			Degraded:       attempts != nil,
		}
		res.Degraded = attempts != nil
	case provider.TaskDetectLanguage:
		res.Language = langdetect.English
	case provider.TaskExtractIntent:
		res.Degraded = true
		res.Intent = &IntentResult{
			Intent:   "information",
			Action:   p.Text,
			Entities: []string{},
			Priority: "low",
			Source:   provider.FallbackName,
		}
	case provider.TaskAnalyzeConversation:
		res.Degraded = true
		res.Analysis = &ConversationAnalysis{Summary: "", ActionItems: []string{}, Source: provider.FallbackName}
	}
	return res
}
