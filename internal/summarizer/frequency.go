package summarizer

import (
	"math"
	"sort"
	"strings"

	"ragchat/internal/textutil"
)

// FrequencySummarizer picks the sentences whose content words are most
// frequent across the whole text.
type FrequencySummarizer struct{}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

// Summarize returns up to maxSentences sentences in their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := textutil.Sentences(text)
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " "), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, sent := range sentences {
		tokens[i] = textutil.ContentTokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i := range sentences {
		score := 0.0
		for _, tok := range tokens[i] {
			score += freq[tok] / maxF
		}
		// long sentences would otherwise always win
		if n := len(tokens[i]); n > 0 {
			score /= math.Sqrt(float64(n))
		}
		scores[i] = ranked{idx: i, score: score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}
