package service

import "pomelo/internal/pkg/textnorm"

// defaultCannedReplies exact-match dictionary of conversational fillers,
// keyed by normalized text. Serving one costs nothing and never touches a
// provider.
var defaultCannedReplies = map[string]string{
	// greetings
	"oi":        "Olá! Como posso ajudar você hoje?",
	"ola":       "Olá! Como posso ajudar você hoje?",
	"bom dia":   "Bom dia! Como posso ajudar?",
	"boa tarde": "Boa tarde! Como posso ajudar?",
	"boa noite": "Boa noite! Como posso ajudar?",
	"hi":        "Hi! How can I help you today?",
	"hello":     "Hello! How can I help you today?",
	"hey":       "Hey! How can I help you today?",

	// thanks
	"obrigado":       "De nada! Precisando de algo mais, é só chamar.",
	"obrigada":       "De nada! Precisando de algo mais, é só chamar.",
	"muito obrigado": "Por nada! Estou à disposição.",
	"muito obrigada": "Por nada! Estou à disposição.",
	"valeu":          "De nada! Qualquer coisa, estou por aqui.",
	"thanks":         "You're welcome! Let me know if you need anything else.",
	"thank you":      "You're welcome! Let me know if you need anything else.",

	// farewells
	"tchau":           "Até logo! Foi um prazer ajudar.",
	"ate logo":        "Até logo! Foi um prazer ajudar.",
	"ate mais":        "Até mais! Foi um prazer ajudar.",
	"bye":             "Goodbye! It was a pleasure helping you.",
	"goodbye":         "Goodbye! It was a pleasure helping you.",
	"see you":         "See you! It was a pleasure helping you.",
	"boa noite tchau": "Boa noite! Até a próxima.",
}

// buildCannedReplies merges deployment overrides over the built-in set;
// override keys go through the same normalization as inbound text
func buildCannedReplies(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaultCannedReplies)+len(overrides))
	for k, v := range defaultCannedReplies {
		out[k] = v
	}
	for k, v := range overrides {
		out[textnorm.Normalize(k)] = v
	}
	return out
}
