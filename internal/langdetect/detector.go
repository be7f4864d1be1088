// Package langdetect scores short free-text messages against lexical
// indicator sets to guess whether they are English or Spanish. It is
// deliberately heuristic: the relay uses it when no cloud detector is
// reachable and to sanity-check the declared role/language pairing on
// inbound envelopes.
package langdetect

import (
	"strings"
)

// Language is an ISO 639-1 language code as used throughout the relay.
type Language string

const (
	English Language = "en"
	Spanish Language = "es"
)

// Spanish-only orthography: inverted punctuation weighs more than
// accented vowels because it never appears in English text.
const (
	invertedPunctBonus = 2
	diacriticBonus     = 1
)

var englishIndicators = []string{
	"the", "is", "are", "was", "were", "will", "would", "have", "has",
	"need", "needs", "want", "going", "be", "to", "at", "on", "in",
	"we", "you", "they", "i", "it", "this", "that", "what", "where",
	"when", "how", "late", "early", "today", "tomorrow", "job", "site",
	"work", "crew", "bring", "finish", "start", "done", "material",
	"materials", "tools", "safety", "schedule", "delivery",
}

var spanishIndicators = []string{
	"el", "la", "los", "las", "un", "una", "es", "está", "están",
	"necesito", "necesita", "necesitamos", "quiero", "voy", "vamos",
	"llego", "llegar", "tarde", "temprano", "hoy", "mañana", "trabajo",
	"obra", "sitio", "donde", "dónde", "cuando", "cuándo", "como",
	"cómo", "qué", "que", "por", "para", "con", "sin", "cemento",
	"material", "materiales", "herramientas", "seguridad", "entrega",
	"equipo", "jefe", "ya", "aquí", "no", "sí",
}

var spanishDiacritics = "áéíóúñü"

// Detector scores text against both indicator sets. The zero value is
// not usable; construct with New.
type Detector struct {
	defaultLang Language
	english     map[string]struct{}
	spanish     map[string]struct{}
}

// New builds a detector that resolves ties toward defaultLang.
func New(defaultLang Language) *Detector {
	d := &Detector{
		defaultLang: defaultLang,
		english:     make(map[string]struct{}, len(englishIndicators)),
		spanish:     make(map[string]struct{}, len(spanishIndicators)),
	}
	for _, w := range englishIndicators {
		d.english[w] = struct{}{}
	}
	for _, w := range spanishIndicators {
		d.spanish[w] = struct{}{}
	}
	return d
}

// Detect returns the language with the higher indicator score.
// Ties, including empty input, resolve to the default language.
func (d *Detector) Detect(text string) Language {
	en, es := d.Scores(text)
	switch {
	case es > en:
		return Spanish
	case en > es:
		return English
	default:
		return d.defaultLang
	}
}

// Scores returns the raw English and Spanish indicator scores for text.
// The relay handler uses these directly to flag anomalous role/language
// pairings without re-tokenizing.
func (d *Detector) Scores(text string) (english, spanish int) {
	for _, tok := range tokenize(text) {
		if _, ok := d.english[tok]; ok {
			english++
		}
		if _, ok := d.spanish[tok]; ok {
			spanish++
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '¿' || r == '¡':
			spanish += invertedPunctBonus
		case strings.ContainsRune(spanishDiacritics, r):
			spanish += diacriticBonus
		}
	}
	return english, spanish
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if strings.ContainsRune(spanishDiacritics, r) {
			return false
		}
		return true
	})
}
