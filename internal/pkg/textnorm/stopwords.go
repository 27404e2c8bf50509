package textnorm

// stopwords connective words excluded from keyword indexes.
// Portuguese first (primary deployment language), plus the short English and
// Spanish sets that show up in mixed-language conversations.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// pt
		"com", "como", "das", "dos", "ela", "ele", "elas", "eles", "essa",
		"esse", "esta", "este", "isso", "isto", "mais", "mas", "meu", "minha",
		"muito", "nao", "não", "nos", "nós", "para", "pela", "pelo", "por",
		"porque", "qual", "quando", "que", "quem", "são", "sao", "sem", "ser",
		"seu", "sua", "tem", "têm", "uma", "umas", "uns", "você", "voce",
		"vocês", "voces",
		// en
		"and", "are", "but", "for", "from", "have", "her", "his", "its",
		"not", "she", "that", "the", "their", "them", "they", "this", "was",
		"were", "what", "when", "where", "which", "who", "why", "will",
		"with", "you", "your",
		// es
		"con", "cual", "cuando", "donde", "ellos", "esta", "este", "las",
		"los", "pero", "por", "porque", "que", "ser", "son", "una", "unas",
		"unos", "usted",
	} {
		stopwords[w] = struct{}{}
	}
}
