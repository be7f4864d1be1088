package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/handyboss/relay-gateway/internal/langdetect"
)

// FallbackName is the provider name reported for deterministic results.
const FallbackName = "fallback"

// Fallback is the terminal adapter of every chain. It is pure
// computation over built-in pattern tables: no credentials, no I/O, no
// timeouts, and it never returns an error. Translation runs ordered
// phrase rules first, then multi-word phrase substitution, then a
// token dictionary; intent extraction is keyword scoring.
type Fallback struct{}

// NewFallback creates the deterministic fallback adapter
func NewFallback() *Fallback { return &Fallback{} }

func (f *Fallback) Name() string { return FallbackName }

// Available is always true; the fallback is the reason the chain can
// never come up empty.
func (f *Fallback) Available() bool { return true }

// Invoke never fails.
func (f *Fallback) Invoke(_ context.Context, task Task, p Payload) (string, error) {
	switch task {
	case TaskTranslate:
		return f.translate(p), nil
	case TaskDetectLanguage:
		// the heuristic detector sits ahead of this in the chain;
		// here we can only hand back the default
		return string(langdetect.English), nil
	case TaskExtractIntent:
		return f.extractIntent(p), nil
	case TaskAnalyzeConversation:
		return f.analyze(p), nil
	default:
		return p.Text, nil
	}
}

type phraseRule struct {
	re   *regexp.Regexp
	repl string
}

var enToEsRules = []phraseRule{
	{regexp.MustCompile(`(?i)^i(?:'ll| will) be late to the (.+)$`), "Llegaré tarde a la $1"},
	{regexp.MustCompile(`(?i)^i(?:'ll| will) be late\b.*$`), "Llegaré tarde"},
	{regexp.MustCompile(`(?i)^i(?:'m| am) on my way\b.*$`), "Voy en camino"},
	{regexp.MustCompile(`(?i)^we need more (.+)$`), "Necesitamos más $1"},
	{regexp.MustCompile(`(?i)^i need (.+)$`), "Necesito $1"},
	{regexp.MustCompile(`(?i)^bring (?:the )?(.+)$`), "Trae $1"},
	{regexp.MustCompile(`(?i)^the delivery is delayed\b.*$`), "La entrega está retrasada"},
	{regexp.MustCompile(`(?i)^when (?:will you|do you) (?:arrive|get here)\b.*$`), "¿Cuándo llegas?"},
	{regexp.MustCompile(`(?i)^(?:everyone )?wear your safety gear\b.*$`), "Usa tu equipo de seguridad"},
	{regexp.MustCompile(`(?i)^work is done for today\b.*$`), "El trabajo terminó por hoy"},
	{regexp.MustCompile(`(?i)^is everything (?:ok|okay|alright)\??$`), "¿Está todo bien?"},
}

var esToEnRules = []phraseRule{
	{regexp.MustCompile(`(?i)^llegar[ée] tarde a la (.+)$`), "I will be late to the $1"},
	{regexp.MustCompile(`(?i)^llegar[ée] tarde\b.*$`), "I will be late"},
	{regexp.MustCompile(`(?i)^voy en camino\b.*$`), "I am on my way"},
	{regexp.MustCompile(`(?i)^necesitamos m[áa]s (.+)$`), "We need more $1"},
	{regexp.MustCompile(`(?i)^necesito (.+)$`), "I need $1"},
	{regexp.MustCompile(`(?i)^¿?d[óo]nde est[áa] (?:el|la) (.+?)\??$`), "Where is the $1?"},
	{regexp.MustCompile(`(?i)^la entrega est[áa] retrasada\b.*$`), "The delivery is delayed"},
	{regexp.MustCompile(`(?i)^¿?cu[áa]ndo llegas\??$`), "When will you arrive?"},
	{regexp.MustCompile(`(?i)^el trabajo termin[óo] por hoy\b.*$`), "Work is done for today"},
	{regexp.MustCompile(`(?i)^¿?est[áa] todo bien\??$`), "Is everything okay?"},
}

// Multi-word phrases run before the token dictionary so site names and
// compound terms translate as units.
var enToEsPhrases = [][2]string{
	{"downtown renovation", "Renovación del Centro"},
	{"job site", "obra"},
	{"safety gear", "equipo de seguridad"},
	{"right now", "ahora mismo"},
	{"first thing tomorrow", "mañana a primera hora"},
}

var esToEnPhrases = [][2]string{
	{"renovación del centro", "Downtown Renovation"},
	{"equipo de seguridad", "safety gear"},
	{"ahora mismo", "right now"},
	{"mañana a primera hora", "first thing tomorrow"},
}

var enToEsWords = map[string]string{
	"cement":    "cemento",
	"concrete":  "concreto",
	"bricks":    "ladrillos",
	"tools":     "herramientas",
	"materials": "materiales",
	"ladder":    "escalera",
	"water":     "agua",
	"lunch":     "almuerzo",
	"help":      "ayuda",
	"tomorrow":  "mañana",
	"today":     "hoy",
	"late":      "tarde",
	"early":     "temprano",
	"boss":      "jefe",
	"crew":      "equipo",
	"delivery":  "entrega",
	"schedule":  "horario",
	"danger":    "peligro",
	"yes":       "sí",
	"thanks":    "gracias",
}

var esToEnWords = map[string]string{
	"cemento":      "cement",
	"concreto":     "concrete",
	"ladrillos":    "bricks",
	"herramientas": "tools",
	"materiales":   "materials",
	"escalera":     "ladder",
	"agua":         "water",
	"almuerzo":     "lunch",
	"ayuda":        "help",
	"mañana":       "tomorrow",
	"hoy":          "today",
	"tarde":        "late",
	"temprano":     "early",
	"jefe":         "boss",
	"equipo":       "crew",
	"entrega":      "delivery",
	"horario":      "schedule",
	"peligro":      "danger",
	"gracias":      "thanks",
}

// unavailableMarker flags output the pattern engine could not change,
// so clients can tell a passthrough from a real translation.
func unavailableMarker(target langdetect.Language) string {
	if target == langdetect.Spanish {
		return " (traducción no disponible)"
	}
	return " (translation unavailable)"
}

func (f *Fallback) translate(p Payload) string {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return text
	}

	rules, phrases, words := enToEsRules, enToEsPhrases, enToEsWords
	if p.TargetLang == langdetect.English {
		rules, phrases, words = esToEnRules, esToEnPhrases, esToEnWords
	}

	out := text
	for _, r := range rules {
		if r.re.MatchString(out) {
			out = r.re.ReplaceAllString(out, r.repl)
			break
		}
	}
	for _, ph := range phrases {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(ph[0]) + `\b`)
		out = re.ReplaceAllString(out, ph[1])
	}
	for src, dst := range words {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(src) + `\b`)
		out = re.ReplaceAllString(out, dst)
	}

	if strings.EqualFold(out, text) {
		return text + unavailableMarker(p.TargetLang)
	}
	return out
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// extractIntent is a keyword heuristic producing a low-confidence
// structured guess in the same JSON schema the hosted models use.
func (f *Fallback) extractIntent(p Payload) string {
	text := strings.ToLower(p.Text)

	intent := "information"
	priority := "low"
	switch {
	case containsAny(text, "danger", "accident", "emergency", "injured", "fire", "hurt",
		"peligro", "accidente", "emergencia", "herido", "fuego"):
		intent = "alert"
		priority = "high"
	case containsAny(text, "late", "delay", "delayed", "schedule", "reschedule", "tomorrow",
		"tarde", "retras", "horario", "mañana"):
		intent = "schedule"
		priority = "medium"
	case containsAny(text, "need", "bring", "send", "order", "more",
		"necesit", "trae", "manda", "pide", "más"):
		intent = "request"
		priority = "medium"
	case containsAny(text, "done", "finished", "complete", "ready",
		"terminado", "terminé", "listo", "completo"):
		intent = "report"
	}

	var entities []string
	for _, term := range []string{
		"cement", "cemento", "concrete", "concreto", "tools", "herramientas",
		"materials", "materiales", "ladder", "escalera", "bricks", "ladrillos",
		"crew", "equipo", "delivery", "entrega",
	} {
		if strings.Contains(text, term) {
			entities = append(entities, term)
		}
	}
	if entities == nil {
		entities = []string{}
	}

	requiresResponse := intent == "alert" || intent == "request" || strings.Contains(p.Text, "?")
	jobsiteRelevant := containsAny(text, "site", "obra", "jobsite", "job site") || len(entities) > 0

	result := map[string]any{
		"intent":           intent,
		"action":           strings.TrimSpace(p.Text),
		"entities":         entities,
		"priority":         priority,
		"jobsiteRelevant":  jobsiteRelevant,
		"requiresResponse": requiresResponse,
	}
	out, _ := json.Marshal(result)
	return string(out)
}

func (f *Fallback) analyze(p Payload) string {
	text := p.Context
	if text == "" {
		text = p.Text
	}
	if len(text) > 200 {
		text = text[:200]
	}
	out, _ := json.Marshal(map[string]any{
		"summary":     fmt.Sprintf("Conversation excerpt: %s", text),
		"actionItems": []string{},
	})
	return string(out)
}
