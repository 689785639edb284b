package memory

import (
	"context"
	"regexp"

	"github.com/executive-assistant/ken/internal/domain"
)

// correctionTriggers/repetitionTriggers/satisfactionTriggers/
// frustrationTriggers are lifted from InstinctObserver.PATTERNS and its
// SATISFACTION_PATTERNS/FRUSTRATION_PATTERNS, translated to Go regexps.
var (
	correctionTriggers = compileAll(
		`no, i meant`, `actually,?`, `wait, that's not`, `let me clarify`,
		`i want you to instead`, `not quite, `,
	)
	repetitionTriggers = compileAll(
		`(again|once more|repeat)`, `like you did before`, `same as last time`, `remember when you`,
	)
	verbosityPatterns = []patternAction{
		{compile(`(be brief|concise|short|to the point)`), "concise"},
		{compile(`(more detail|explain more|elaborate|expand)`), "detailed"},
		{compile(`(keep it simple|don't over-explain)`), "simple"},
	}
	formatPatterns = []patternAction{
		{compile(`(json|csv|markdown|table)`), "format_preference"},
		{compile(`(bullet points|list format)`), "bullets"},
		{compile(`(paragraph|prose|narrative)`), "prose"},
	}
	satisfactionTriggers = compileAll(
		`\b(perfect|great|awesome|thanks|exactly what)\b`,
		`\b(that's what i needed|just what i wanted|love it)\b`,
		`\b(amazing|brilliant|excellent)\b`,
		`👍|✅|🎉|😊`,
	)
	frustrationTriggers = compileAll(
		`\b(nevermind|forget it|whatever)\b`,
		`^(ok|okay|fine)[!.]*$`,
		`\?+$`,
	)
)

type patternAction struct {
	re     *regexp.Regexp
	action string
}

func compile(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = compile(p)
	}
	return out
}

var verbosityActions = map[string]string{
	"concise":  "be brief and concise, skip detailed explanations",
	"detailed": "provide thorough explanations with examples",
	"simple":   "use simple language and avoid jargon",
}

// Observer detects behavioral patterns in user messages and records them
// as Instincts, and detects satisfaction/frustration to reinforce or
// penalize previously-applied instincts. Grounded directly on
// original_source/src/executive_assistant/instincts/observer.py's
// InstinctObserver.
type Observer struct {
	Store *Store
}

func NewObserver(store *Store) *Observer {
	return &Observer{Store: store}
}

// ObserveMessage runs every detector over userMessage and returns the IDs
// of instincts created or reinforced, mirroring observe_message.
func (o *Observer) ObserveMessage(ctx context.Context, threadID, userMessage string) ([]string, error) {
	var detected []string

	if matchAny(correctionTriggers, userMessage) {
		id, err := o.handleCorrection(ctx, threadID)
		if err != nil {
			return detected, err
		}
		detected = append(detected, id)
	}

	if matchAny(repetitionTriggers, userMessage) {
		id, err := o.handleRepetition(ctx, threadID)
		if err != nil {
			return detected, err
		}
		detected = append(detected, id)
	}

	if id, ok, err := o.detectPatternPreference(ctx, threadID, userMessage, verbosityPatterns, "communication", verbosityActions); err != nil {
		return detected, err
	} else if ok {
		detected = append(detected, id)
	}

	if id, ok, err := o.detectPatternPreference(ctx, threadID, userMessage, formatPatterns, "format", formatActions); err != nil {
		return detected, err
	} else if ok {
		detected = append(detected, id)
	}

	return detected, nil
}

var formatActions = map[string]string{
	"bullets": "use bullet points for lists and structured content",
	"prose":   "use paragraph/prose format with full sentences",
}

func (o *Observer) handleCorrection(ctx context.Context, threadID string) (string, error) {
	if existing, ok, err := o.Store.FindByDomainAndTriggerSubstring(ctx, threadID, "communication", "correct"); err != nil {
		return "", err
	} else if ok {
		return existing.ID, o.Store.AdjustConfidence(ctx, existing.ID, 0.05)
	}
	in, err := o.Store.CreateInstinct(ctx, domain.Instinct{
		Trigger: "user corrects previous response",
		Action:  "acknowledge correction immediately, apologize, and adjust approach",
		Domain:  "communication",
		Source:  "correction-detected",
		Confidence: 0.7,
	}, threadID)
	return in.ID, err
}

func (o *Observer) handleRepetition(ctx context.Context, threadID string) (string, error) {
	if existing, ok, err := o.Store.FindByDomainAndTriggerSubstring(ctx, threadID, "workflow", "repeat"); err != nil {
		return "", err
	} else if ok {
		return existing.ID, o.Store.AdjustConfidence(ctx, existing.ID, 0.05)
	}
	if existing, ok, err := o.Store.FindByDomainAndTriggerSubstring(ctx, threadID, "workflow", "again"); err != nil {
		return "", err
	} else if ok {
		return existing.ID, o.Store.AdjustConfidence(ctx, existing.ID, 0.05)
	}
	in, err := o.Store.CreateInstinct(ctx, domain.Instinct{
		Trigger: "user requests repetition",
		Action:  "repeat the same action or follow the same pattern as before",
		Domain:  "workflow",
		Source:  "repetition-confirmed",
		Confidence: 0.6,
	}, threadID)
	return in.ID, err
}

// detectPatternPreference is shared by verbosity and format detection:
// both scan an ordered pattern list, reinforce an existing instinct whose
// action already names the matched keyword, or create a new one, stopping
// at the first match (mirroring the Python "break" after one instinct per
// message).
func (o *Observer) detectPatternPreference(ctx context.Context, threadID, message string, patterns []patternAction, dom string, actionText map[string]string) (string, bool, error) {
	for _, p := range patterns {
		if !p.re.MatchString(message) {
			continue
		}
		if existing, ok, err := o.Store.FindByDomainAndActionSubstring(ctx, threadID, dom, p.action); err != nil {
			return "", false, err
		} else if ok {
			return existing.ID, true, o.Store.AdjustConfidence(ctx, existing.ID, 0.05)
		}

		action, ok := actionText[p.action]
		if !ok {
			action = "use " + p.action + " format by default"
		}
		confidence := 0.7
		if dom == "format" {
			confidence = 0.8
		}
		in, err := o.Store.CreateInstinct(ctx, domain.Instinct{
			Trigger:    "user prefers " + p.action + " " + kindLabel(dom),
			Action:     action,
			Domain:     dom,
			Source:     "preference-expressed",
			Confidence: confidence,
		}, threadID)
		return in.ID, true, err
	}
	return "", false, nil
}

func kindLabel(dom string) string {
	if dom == "format" {
		return "format"
	}
	return "responses"
}

// ObserveConversationOutcome checks userMessage for satisfaction or
// frustration language and records the outcome against every instinct
// applied to the response it is replying to, mirroring
// observe_conversation_outcome.
func (o *Observer) ObserveConversationOutcome(ctx context.Context, userMessage string, appliedInstinctIDs []string) ([]string, error) {
	if len(appliedInstinctIDs) == 0 {
		return nil, nil
	}

	if matchAny(satisfactionTriggers, userMessage) {
		for _, id := range appliedInstinctIDs {
			if err := o.Store.RecordOutcome(ctx, id, true); err != nil {
				return nil, err
			}
		}
		return appliedInstinctIDs, nil
	}

	if matchAny(frustrationTriggers, userMessage) {
		for _, id := range appliedInstinctIDs {
			if err := o.Store.RecordOutcome(ctx, id, false); err != nil {
				return nil, err
			}
		}
		return appliedInstinctIDs, nil
	}

	return nil, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
