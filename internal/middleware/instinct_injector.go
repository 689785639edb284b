package middleware

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/executive-assistant/ken/internal/reasoning"
)

// Instinct is the narrow view of a learned behavioral pattern this
// middleware needs. Mirrors the shape internal/memory's instinct store
// returns, without importing that package.
type Instinct struct {
	Domain     string
	Trigger    string
	Action     string
	Confidence float64
}

// InstinctProvider is satisfied by internal/memory's Store.
type InstinctProvider interface {
	// Applicable returns instincts matching the current context, ranked by
	// relevance; may return nil with no error if none match.
	Applicable(ctx context.Context, threadID, userMessage string, maxCount int) ([]Instinct, error)
	// ListHighConfidence returns every instinct at or above minConfidence,
	// used as a fallback when Applicable finds nothing and when no
	// userMessage is available to filter by.
	ListHighConfidence(ctx context.Context, threadID string, minConfidence float64) ([]Instinct, error)
}

type conflictRule struct {
	domain       string
	action       string
	overrides    []domainAction
	minConfidence float64
}

type domainAction struct {
	domain string
	action string
}

// instinctConflictRules mirrors the original's CONFLICT_RESOLUTION table:
// a kept instinct at or above its rule's min confidence suppresses any
// later instinct matching one of its overrides.
var instinctConflictRules = []conflictRule{
	{
		domain: "timing", action: "urgent",
		overrides: []domainAction{
			{"communication", "detailed"},
			{"communication", "thorough"},
			{"communication", "explain"},
			{"learning_style", "explain"},
		},
		minConfidence: 0.6,
	},
	{
		domain: "communication", action: "concise",
		overrides: []domainAction{
			{"communication", "detailed"},
			{"communication", "elaborate"},
			{"communication", "thorough"},
		},
		minConfidence: 0.6,
	},
	{
		domain: "communication", action: "brief",
		overrides: []domainAction{
			{"communication", "detailed"},
			{"communication", "elaborate"},
		},
		minConfidence: 0.6,
	},
	{
		domain: "emotional_state", action: "frustrated",
		overrides: []domainAction{
			{"workflow", "standard"},
			{"communication", "brief"},
		},
		minConfidence: 0.5,
	},
	{
		domain: "emotional_state", action: "confused",
		overrides: []domainAction{
			{"communication", "brief"},
			{"communication", "concise"},
		},
		minConfidence: 0.5,
	},
}

// instinctDomainPreamble mirrors the original's DOMAIN_TEMPLATES: a few
// domains get an extra framing paragraph beyond the bare action list.
var instinctDomainPreamble = map[string]string{
	"emotional_state": "The user appears to be in the following emotional state:",
	"learning_style":  "Based on past interactions, the user prefers:",
	"expertise":       "The user has demonstrated knowledge in:",
}

// InstinctInjectorMW loads applicable learned behavioral patterns and
// stashes a formatted "## Behavioral Patterns" block in
// state.CustomState["behavioral_patterns"], for the llm provider adapter to
// insert between the base system prompt and any channel-specific appendix.
// Grounded on original_source's executive_assistant/instincts/injector.py
// InstinctInjector.build_instincts_context.
type InstinctInjectorMW struct {
	Base
	Provider      InstinctProvider
	MinConfidence float64
	MaxPerDomain  int
}

func NewInstinctInjectorMW(provider InstinctProvider, minConfidence float64, maxPerDomain int) *InstinctInjectorMW {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	if maxPerDomain <= 0 {
		maxPerDomain = 3
	}
	return &InstinctInjectorMW{Provider: provider, MinConfidence: minConfidence, MaxPerDomain: maxPerDomain}
}

func (m *InstinctInjectorMW) Name() string { return "instinct_injector" }

func (m *InstinctInjectorMW) BeforeModel(ctx context.Context, state *reasoning.AgentState) error {
	if m.Provider == nil {
		return nil
	}

	userMessage := lastUserMessage(state)
	var instincts []Instinct
	var err error
	if userMessage != "" {
		instincts, err = m.Provider.Applicable(ctx, state.ThreadID, userMessage, m.MaxPerDomain*6)
		if err != nil {
			return nil
		}
		if len(instincts) == 0 {
			instincts, err = m.Provider.ListHighConfidence(ctx, state.ThreadID, m.MinConfidence)
		}
	} else {
		instincts, err = m.Provider.ListHighConfidence(ctx, state.ThreadID, m.MinConfidence)
	}
	if err != nil || len(instincts) == 0 {
		return nil
	}

	instincts = resolveInstinctConflicts(instincts)
	formatted := formatInstincts(instincts, m.MaxPerDomain)
	if formatted == "" {
		return nil
	}
	state.CustomState["behavioral_patterns"] = formatted
	return nil
}

// resolveInstinctConflicts drops any instinct overridden by a
// higher-priority instinct already kept, in original order.
func resolveInstinctConflicts(instincts []Instinct) []Instinct {
	kept := make([]Instinct, 0, len(instincts))
	for _, candidate := range instincts {
		action := strings.ToLower(candidate.Action)
		overridden := false
		for _, k := range kept {
			kAction := strings.ToLower(k.Action)
			for _, rule := range instinctConflictRules {
				if k.Domain != rule.domain || !strings.Contains(kAction, rule.action) || k.Confidence < rule.minConfidence {
					continue
				}
				for _, ov := range rule.overrides {
					if candidate.Domain == ov.domain && strings.Contains(action, ov.action) {
						overridden = true
						break
					}
				}
				if overridden {
					break
				}
			}
			if overridden {
				break
			}
		}
		if !overridden {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func formatInstincts(instincts []Instinct, maxPerDomain int) string {
	byDomain := make(map[string][]Instinct)
	for _, inst := range instincts {
		byDomain[inst.Domain] = append(byDomain[inst.Domain], inst)
	}
	if len(byDomain) == 0 {
		return ""
	}

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var b strings.Builder
	b.WriteString("## Behavioral Patterns\n\n")
	b.WriteString("Apply these learned preferences from your interactions:\n\n")

	for _, domain := range domains {
		domainInstincts := byDomain[domain]
		if len(domainInstincts) > maxPerDomain {
			domainInstincts = domainInstincts[:maxPerDomain]
		}

		b.WriteString(fmt.Sprintf("### %s\n", titleCaseDomain(domain)))
		if preamble, ok := instinctDomainPreamble[domain]; ok {
			b.WriteString(preamble + "\n")
		}
		for _, inst := range domainInstincts {
			switch {
			case inst.Confidence >= 0.8:
				b.WriteString(fmt.Sprintf("- **%s** (always apply)\n", inst.Action))
			case inst.Confidence >= 0.6:
				b.WriteString(fmt.Sprintf("- %s\n", inst.Action))
			default:
				b.WriteString(fmt.Sprintf("- %s (when: %s)\n", inst.Action, inst.Trigger))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func titleCaseDomain(domain string) string {
	words := strings.Split(strings.ReplaceAll(domain, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
