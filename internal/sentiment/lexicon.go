package sentiment

// Domain-specific term sets used for the lexicon adjustment. Terms are
// matched against lemmatized tokens, so every entry is a base form
// ("gain" also catches "gains", "hand" catches "hands").
var domainPositive = newTermSet(
	"moon", "bullish", "pump", "rally", "surge", "breakout", "hodl",
	"diamond", "hand", "rocket", "lambo", "ath", "gain", "profit",
	"buy", "accumulate", "strong", "support", "resistance", "upgrade",
	"adoption", "institutional", "partnership", "integration", "launch",
)

var domainNegative = newTermSet(
	"dump", "crash", "bear", "bearish", "sell", "panic", "fud",
	"scam", "rug", "pull", "hack", "exploit", "ban", "regulation",
	"decline", "drop", "fall", "weak", "concern", "risk", "warning",
	"bubble", "overvalued", "correction", "liquidation", "loss",
)

// stopWords is a compact English stop-word list; enough to keep function
// words out of the token ratios without dragging in a corpus dependency.
var stopWords = newTermSet(
	"a", "about", "above", "after", "again", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being",
	"below", "between", "both", "but", "by", "can", "did", "do", "does",
	"doing", "down", "during", "each", "few", "for", "from", "further",
	"had", "has", "have", "having", "he", "her", "here", "hers", "him",
	"his", "how", "i", "if", "in", "into", "is", "it", "its", "just",
	"me", "more", "most", "my", "no", "nor", "not", "now", "of", "off",
	"on", "once", "only", "or", "other", "our", "out", "over", "own",
	"s", "same", "she", "should", "so", "some", "such", "t", "than",
	"that", "the", "their", "them", "then", "there", "these", "they",
	"this", "those", "through", "to", "too", "under", "until", "up",
	"very", "was", "we", "were", "what", "when", "where", "which",
	"while", "who", "whom", "why", "will", "with", "you", "your",
)

type termSet map[string]struct{}

func newTermSet(terms ...string) termSet {
	s := make(termSet, len(terms))
	for _, t := range terms {
		s[t] = struct{}{}
	}
	return s
}

func (s termSet) has(term string) bool {
	_, ok := s[term]
	return ok
}

// lemmatize reduces a token to a rough base form: possessives first, then
// common plural/inflection suffixes. Intentionally shallow; the domain sets
// above are curated against exactly these reductions.
func lemmatize(token string) string {
	token = trimSuffixIfLonger(token, "'s", 3)

	switch {
	case hasSuffixLonger(token, "ies", 4):
		return token[:len(token)-3] + "y"
	case hasSuffixLonger(token, "sses", 5):
		return token[:len(token)-2]
	case hasSuffixLonger(token, "ches", 5), hasSuffixLonger(token, "shes", 5):
		return token[:len(token)-2]
	case hasSuffixLonger(token, "ss", 3):
		return token
	case hasSuffixLonger(token, "s", 3):
		return token[:len(token)-1]
	}
	return token
}

func hasSuffixLonger(s, suffix string, minLen int) bool {
	return len(s) >= minLen && len(s) > len(suffix) &&
		s[len(s)-len(suffix):] == suffix
}

func trimSuffixIfLonger(s, suffix string, minLen int) string {
	if hasSuffixLonger(s, suffix, minLen) {
		return s[:len(s)-len(suffix)]
	}
	return s
}
