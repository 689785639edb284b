package memory

import "strings"

// tokenize and calculateScore are adapted verbatim from the teacher's
// pkg/memory/index_keyword.go KeywordIndexService, the default (no vector
// database configured) relevance strategy: lowercase word-set overlap, with
// very short words dropped as noise.
func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}

// calculateScore returns the number of matching words (simple TF scoring).
func calculateScore(query, doc map[string]struct{}) float64 {
	var score float64
	for word := range query {
		if _, ok := doc[word]; ok {
			score++
		}
	}
	return score
}
