package memory

import (
	"context"
	"strings"

	"github.com/executive-assistant/ken/internal/domain"
)

// preferenceIndicators/factIndicators and the extraction logic below are
// lifted from MemoryLearningMiddleware._rule_extraction: the no-LLM
// fallback path that scans a message for a handful of fixed phrases and
// slices out whatever follows. internal/llm's extraction-model path (the
// Python original's alternative _llm_extraction) is not implemented here;
// see DESIGN.md.
var preferenceIndicators = []string{"i prefer", "i like", "i'd rather", "my preference is"}

var factIndicators = []string{"i am", "i work", "my role is", "i'm a"}

// candidateMemory is a rule-extracted memory awaiting a confidence check
// before being persisted, mirroring the dict MemoryLearningMiddleware
// builds before _save_memory.
type candidateMemory struct {
	Type       string
	Content    string
	Confidence float64
	Source     string
}

// ExtractFromMessage runs the preference/fact detectors over a single user
// message, mirroring _rule_extraction's per-message loop (the Python
// original runs this over every message in the transcript; this function
// is called once per new user turn instead, which yields the same candidates
// without re-scanning history already extracted).
func ExtractFromMessage(content string) []candidateMemory {
	lower := strings.ToLower(content)
	var out []candidateMemory

	if containsAny(lower, preferenceIndicators) {
		if preference := extractPreference(content); preference != "" {
			out = append(out, candidateMemory{
				Type: "procedural", Content: preference, Confidence: 0.7, Source: "learned",
			})
		}
	}

	if containsAny(lower, factIndicators) {
		if fact := extractFact(content); fact != "" {
			out = append(out, candidateMemory{
				Type: "semantic", Content: fact, Confidence: 0.8, Source: "explicit",
			})
		}
	}

	return out
}

func containsAny(text string, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(text, ind) {
			return true
		}
	}
	return false
}

func extractPreference(text string) string {
	lower := strings.ToLower(text)
	for _, indicator := range preferenceIndicators {
		idx := strings.Index(lower, indicator)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(indicator):])
		if len(rest) > 10 && len(rest) < 200 {
			return "User prefers " + rest
		}
	}
	return ""
}

// LearnFromMessage extracts candidate memories from a user message and
// persists those at or above minConfidence, mirroring after_agent's
// "if memory.get('confidence', 0) >= self.min_confidence" gate.
func (s *Store) LearnFromMessage(ctx context.Context, threadID, content string, minConfidence float64) ([]domain.Memory, error) {
	var saved []domain.Memory
	for _, c := range ExtractFromMessage(content) {
		if c.Confidence < minConfidence {
			continue
		}
		m, err := s.AddMemory(ctx, domain.Memory{
			ThreadID:   threadID,
			Content:    c.Content,
			Type:       domain.MemoryType(c.Type),
			Confidence: c.Confidence,
			Source:     c.Source,
		})
		if err != nil {
			return saved, err
		}
		saved = append(saved, m)
	}
	return saved, nil
}

func extractFact(text string) string {
	lower := strings.ToLower(text)
	for _, indicator := range factIndicators {
		idx := strings.Index(lower, indicator)
		if idx < 0 {
			continue
		}
		fact := strings.TrimSpace(text[idx:])
		if len(fact) > 10 && len(fact) < 200 {
			return fact
		}
	}
	return ""
}
