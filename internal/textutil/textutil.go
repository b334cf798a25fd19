// Package textutil holds the word and sentence helpers shared by the
// hashing embedder, the summarizer and the chat TUI.
package textutil

import (
	"regexp"
	"strings"
)

var (
	wordPattern     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	stopwords       = buildStopwords()
)

// Tokens returns the lower-cased words of text, stopwords included.
func Tokens(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns the lower-cased words of text without stopwords.
func ContentTokens(text string) []string {
	raw := Tokens(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TokenSet returns the distinct lower-cased words of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokens(text)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// Overlap counts the distinct words of text that appear in set.
func Overlap(set map[string]struct{}, text string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range Tokens(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			score++
		}
	}
	return score
}

// Sentences splits text on terminal punctuation. Text without any
// terminator comes back as a single trimmed sentence.
func Sentences(text string) []string {
	found := sentencePattern.FindAllString(text, -1)
	if len(found) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	out := make([]string, 0, len(found))
	for _, s := range found {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

func buildStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "what", "which", "who", "how",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
