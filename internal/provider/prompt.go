package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/handyboss/relay-gateway/internal/langdetect"
)

// The hosted adapters share one prompt builder so the two vendors get
// identical instructions and an identical output contract.

func languageName(l langdetect.Language) string {
	switch l {
	case langdetect.Spanish:
		return "Spanish"
	case langdetect.English:
		return "English"
	default:
		return string(l)
	}
}

func systemPrompt(task Task, p Payload) string {
	switch task {
	case TaskTranslate:
		return fmt.Sprintf(
			"You are a translator for a construction company. Translate the user's message from %s to %s. "+
				"Use natural, spoken construction-site register and keep construction terminology accurate "+
				"(materials, tools, trades, schedules, safety). "+
				"Reply with only the translated text, no explanations and no quotes.",
			languageName(p.SourceLang), languageName(p.TargetLang))
	case TaskDetectLanguage:
		return "Identify the language of the user's message. Reply with exactly one lowercase ISO 639-1 code: en or es. Nothing else."
	case TaskExtractIntent:
		return "You analyze short voice commands from construction bosses and field workers. " +
			"Respond with a single JSON object and nothing else, matching exactly this schema: " +
			`{"intent":"schedule|report|alert|request|information","action":"<short imperative>",` +
			`"entities":["..."],"priority":"high|medium|low","jobsiteRelevant":true,"requiresResponse":true}`
	case TaskAnalyzeConversation:
		return "You analyze a boss/worker construction conversation. " +
			"Respond with a single JSON object and nothing else: " +
			`{"summary":"<one paragraph>","actionItems":["..."]}`
	default:
		return ""
	}
}

func userPrompt(task Task, p Payload) string {
	if task == TaskAnalyzeConversation && p.Context != "" {
		return p.Context
	}
	return p.Text
}

// wantsJSON reports whether the task's output contract is a single
// JSON object rather than plain text.
func wantsJSON(task Task) bool {
	return task == TaskExtractIntent || task == TaskAnalyzeConversation
}

// extractJSON pulls an embedded JSON object out of a chatty model
// response. Models occasionally wrap the object in prose or code
// fences despite the contract; grabbing the outermost braces recovers
// most of those before we give up on the provider.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// conform enforces the task's output contract on raw model output.
func conform(name string, task Task, raw string) (string, error) {
	out := strings.TrimSpace(raw)
	if !wantsJSON(task) {
		if out == "" {
			return "", newError(name, KindParse, fmt.Errorf("empty response"))
		}
		return out, nil
	}
	if json.Valid([]byte(out)) {
		return out, nil
	}
	if extracted, ok := extractJSON(out); ok {
		return extracted, nil
	}
	return "", newError(name, KindParse, fmt.Errorf("response is not a JSON object: %.80q", out))
}
