package ai

import (
	"strings"
	"unicode"
)

// trivialPhrases greetings, confirmations and farewells that never need the
// full model, normalized form
var trivialPhrases = map[string]struct{}{
	"oi": {}, "ola": {}, "olá": {}, "bom dia": {}, "boa tarde": {},
	"boa noite": {}, "tudo bem": {}, "tudo bom": {}, "obrigado": {},
	"obrigada": {}, "valeu": {}, "blz": {}, "beleza": {}, "ok": {},
	"okay": {}, "sim": {}, "nao": {}, "não": {}, "claro": {}, "tchau": {},
	"ate mais": {}, "até mais": {}, "ate logo": {}, "até logo": {},
	"hello": {}, "hi": {}, "hey": {}, "thanks": {}, "thank you": {},
	"bye": {}, "goodbye": {}, "yes": {}, "no": {}, "sure": {},
}

// trivialPrompt rune-length ceiling below which a chat message goes to the
// lite model even without a phrase match
const trivialLengthLimit = 40

// isTrivialChat classifies a conversational prompt as cheap-model material:
// a known filler phrase, or a single short sentence
func isTrivialChat(prompt string) bool {
	normalized := normalizePhrase(prompt)
	if normalized == "" {
		return false
	}
	if _, ok := trivialPhrases[normalized]; ok {
		return true
	}
	// combined multi-message blobs keep their newlines in the raw prompt
	if strings.ContainsRune(prompt, '\n') {
		return false
	}
	return len([]rune(normalized)) <= trivialLengthLimit
}

// normalizePhrase lowercases and strips punctuation for phrase matching
func normalizePhrase(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
