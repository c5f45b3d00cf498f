package sentiment

import "strings"

// WordListSignal is the built-in BaseSignal: a small general-purpose
// word-polarity list averaged over the words it recognizes. It exists so
// the pipeline runs without an external model; swap in a real one through
// the BaseSignal interface when available.
type WordListSignal struct {
	polarity     map[string]float64
	subjectivity map[string]float64
}

func NewWordListSignal() *WordListSignal {
	return &WordListSignal{
		polarity: map[string]float64{
			"good": 0.7, "great": 0.8, "excellent": 1.0, "amazing": 0.6,
			"awesome": 1.0, "best": 1.0, "better": 0.5, "love": 0.5,
			"like": 0.3, "nice": 0.6, "happy": 0.8, "promising": 0.5,
			"positive": 0.3, "win": 0.8, "success": 0.5, "successful": 0.6,
			"impressive": 0.9, "solid": 0.4, "optimistic": 0.5, "up": 0.2,
			"high": 0.3, "higher": 0.3, "new": 0.1, "revolutionary": 0.6,
			"innovative": 0.5, "secure": 0.5,

			"bad": -0.7, "terrible": -1.0, "awful": -1.0, "worst": -1.0,
			"worse": -0.5, "hate": -0.8, "horrible": -1.0, "sad": -0.5,
			"negative": -0.3, "lose": -0.4, "losing": -0.4, "fail": -0.5,
			"failed": -0.6, "failure": -0.6, "poor": -0.4, "wrong": -0.5,
			"down": -0.2, "low": -0.3, "lower": -0.3, "dead": -0.6,
			"broken": -0.4, "useless": -0.6, "disappointing": -0.6,
			"suspicious": -0.3, "dangerous": -0.6,
		},
		subjectivity: map[string]float64{
			"good": 0.6, "great": 0.75, "excellent": 1.0, "amazing": 0.9,
			"awesome": 1.0, "best": 0.3, "better": 0.5, "love": 0.6,
			"like": 0.2, "nice": 1.0, "happy": 1.0, "promising": 0.6,
			"positive": 0.55, "win": 0.4, "success": 0.4, "successful": 0.45,
			"impressive": 1.0, "solid": 0.4, "optimistic": 0.6, "up": 0.1,
			"high": 0.4, "higher": 0.4, "new": 0.3, "revolutionary": 0.8,
			"innovative": 0.7, "secure": 0.4,

			"bad": 0.65, "terrible": 1.0, "awful": 1.0, "worst": 1.0,
			"worse": 0.6, "hate": 0.9, "horrible": 1.0, "sad": 1.0,
			"negative": 0.55, "lose": 0.4, "losing": 0.4, "fail": 0.5,
			"failed": 0.5, "failure": 0.5, "poor": 0.6, "wrong": 0.5,
			"down": 0.1, "low": 0.4, "lower": 0.4, "dead": 0.6,
			"broken": 0.4, "useless": 0.8, "disappointing": 0.7,
			"suspicious": 0.6, "dangerous": 0.7,
		},
	}
}

// Polarity averages the scores of recognized words. Texts with no
// recognized words are objective neutral (0, 0). Never returns an error.
func (w *WordListSignal) Polarity(text string) (float64, float64, error) {
	var pSum, sSum float64
	var hits int

	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,!?;:\"'()[]")
		p, ok := w.polarity[word]
		if !ok {
			continue
		}
		pSum += p
		sSum += w.subjectivity[word]
		hits++
	}

	if hits == 0 {
		return 0, 0, nil
	}
	return pSum / float64(hits), sSum / float64(hits), nil
}
