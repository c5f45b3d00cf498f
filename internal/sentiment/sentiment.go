// Package sentiment scores item text by combining a pluggable base
// polarity/subjectivity signal with a domain-lexicon adjustment.
package sentiment

import (
	"regexp"
	"strings"
	"unicode"
)

// Version tags every annotation so a re-score with a changed algorithm is
// distinguishable in stored data.
const Version = "lexicon_v1.0"

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

const (
	// labelThreshold splits the adjusted score into the three labels.
	labelThreshold = 0.1
	// adjustmentWeight scales the domain-lexicon contribution.
	adjustmentWeight = 0.5
)

// Result is one scoring outcome. Score is in [-1,1], Confidence in [0,1].
type Result struct {
	Label      string
	Confidence float64
	Score      float64
	Version    string
}

// BaseSignal supplies generic polarity p in [-1,1] and subjectivity s in
// [0,1] for a text. Implementations may call out to external models; any
// error degrades the overall result to neutral rather than propagating.
type BaseSignal interface {
	Polarity(text string) (polarity, subjectivity float64, err error)
}

// Scorer applies the base signal plus the domain lexicon. Safe for
// concurrent use as long as the BaseSignal is.
type Scorer struct {
	base BaseSignal
}

func NewScorer(base BaseSignal) *Scorer {
	if base == nil {
		base = NewWordListSignal()
	}
	return &Scorer{base: base}
}

func neutralResult() Result {
	return Result{Label: LabelNeutral, Confidence: 0, Score: 0, Version: Version}
}

// Score analyzes one text. Empty or whitespace-only input yields the
// deterministic neutral result without touching the base signal.
func (s *Scorer) Score(text string) Result {
	if strings.TrimSpace(text) == "" {
		return neutralResult()
	}

	polarity, subjectivity, err := s.base.Polarity(text)
	if err != nil {
		return neutralResult()
	}

	adjusted := clamp(polarity+adjustmentWeight*lexiconAdjustment(text), -1, 1)

	label := LabelNeutral
	switch {
	case adjusted > labelThreshold:
		label = LabelPositive
	case adjusted < -labelThreshold:
		label = LabelNegative
	}

	confidence := clamp(abs(adjusted)*(1-subjectivity), 0, 1)

	return Result{
		Label:      label,
		Confidence: confidence,
		Score:      adjusted,
		Version:    Version,
	}
}

// lexiconAdjustment is positive_hits/total - negative_hits/total over the
// normalized token stream.
func lexiconAdjustment(text string) float64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var pos, neg int
	for _, tok := range tokens {
		if domainPositive.has(tok) {
			pos++
		}
		if domainNegative.has(tok) {
			neg++
		}
	}

	total := float64(len(tokens))
	return float64(pos)/total - float64(neg)/total
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// normalize strips URLs and the @/# markers (keeping the words), collapses
// whitespace and lowercases.
func normalize(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer("@", "", "#", "").Replace(text)
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Tokenize returns the normalized, alphabetic, stop-word-filtered,
// lemmatized tokens of text. Exported for the scorer's tests and anything
// else that needs the same token view of item content.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		f = trimSuffixIfLonger(f, "'s", 3)
		if f == "" || !isAlpha(f) || stopWords.has(f) {
			continue
		}
		out = append(out, lemmatize(f))
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
