package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/middleware"
)

// occurrenceBoostThreshold/occurrenceBoostRate/maxOccurrenceBoost mirror
// the original's build_instincts_context confidence adjustment: an
// instinct reinforced 5+ times reads out boosted (not stored-boosted), the
// boost capped at +0.15 and the total capped at 1.0.
const (
	occurrenceBoostThreshold = 5
	occurrenceBoostRate      = 0.03
	maxOccurrenceBoost       = 0.15
)

// successRateLearningRate is the moving-average alpha from
// InstinctObserver.record_outcome.
const successRateLearningRate = 0.2

// CreateInstinct persists a new learned behavioral rule, generating an ID
// and timestamps if unset.
func (s *Store) CreateInstinct(ctx context.Context, in domain.Instinct, threadID string) (domain.Instinct, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Metadata.SuccessRate == 0 {
		in.Metadata.SuccessRate = 1.0
	}
	if in.Metadata.OccurrenceCount == 0 {
		in.Metadata.OccurrenceCount = 1
	}
	now := time.Now()

	var lastTriggered any
	if in.Metadata.LastTriggered != nil {
		lastTriggered = ts(*in.Metadata.LastTriggered)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instincts (id, thread_id, trigger, action, domain, confidence, source,
			occurrence_count, success_rate, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, threadID, in.Trigger, in.Action, in.Domain, in.Confidence, in.Source,
		in.Metadata.OccurrenceCount, in.Metadata.SuccessRate, lastTriggered, ts(now), ts(now))
	if err != nil {
		return domain.Instinct{}, fmt.Errorf("create instinct: %w", err)
	}
	return in, nil
}

// FindByDomainAndTriggerSubstring looks for an existing instinct in
// threadID/domain whose trigger contains needle (case-insensitive
// substring, the same check the Python observer's "correct"/"repeat"/
// "again" lookups perform after lowercasing the candidate). Returns
// ok=false if none match.
func (s *Store) FindByDomainAndTriggerSubstring(ctx context.Context, threadID, dom, needle string) (domain.Instinct, bool, error) {
	instincts, err := s.listInstincts(ctx, threadID, dom, 0)
	if err != nil {
		return domain.Instinct{}, false, err
	}
	for _, in := range instincts {
		if containsFold(in.Trigger, needle) {
			return in, true, nil
		}
	}
	return domain.Instinct{}, false, nil
}

// FindByDomainAndActionSubstring is FindByDomainAndTriggerSubstring's
// counterpart for the preference detectors, which key off the action text
// instead of the trigger text.
func (s *Store) FindByDomainAndActionSubstring(ctx context.Context, threadID, dom, needle string) (domain.Instinct, bool, error) {
	instincts, err := s.listInstincts(ctx, threadID, dom, 0)
	if err != nil {
		return domain.Instinct{}, false, err
	}
	for _, in := range instincts {
		if containsFold(in.Action, needle) {
			return in, true, nil
		}
	}
	return domain.Instinct{}, false, nil
}

// AdjustConfidence nudges an instinct's stored confidence by delta (capped
// to [0, 1]) and bumps its occurrence count, mirroring
// InstinctStorage.adjust_confidence being called on every reinforcement.
func (s *Store) AdjustConfidence(ctx context.Context, id string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instincts SET
			confidence = MIN(1.0, MAX(0.0, confidence + ?)),
			occurrence_count = occurrence_count + 1,
			last_triggered = ?,
			updated_at = ?
		WHERE id = ?`,
		delta, ts(time.Now()), ts(time.Now()), id)
	return err
}

// RecordOutcome updates an instinct's success_rate with an exponential
// moving average, mirroring InstinctObserver.record_outcome.
func (s *Store) RecordOutcome(ctx context.Context, id string, success bool) error {
	row := s.db.QueryRowContext(ctx, `SELECT success_rate FROM instincts WHERE id = ?`, id)
	var current float64
	if err := row.Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	newRate := successRateLearningRate*outcome + (1-successRateLearningRate)*current

	_, err := s.db.ExecContext(ctx, `UPDATE instincts SET success_rate = ?, updated_at = ? WHERE id = ?`,
		newRate, ts(time.Now()), id)
	return err
}

// Applicable implements middleware.InstinctProvider: a crude relevance pass
// over every instinct in the thread, scored by keyword overlap between
// userMessage and the instinct's trigger+action text, descending.
func (s *Store) Applicable(ctx context.Context, threadID, userMessage string, maxCount int) ([]middleware.Instinct, error) {
	instincts, err := s.listInstincts(ctx, threadID, "", 0)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenize(userMessage)

	type scored struct {
		in    domain.Instinct
		score float64
	}
	var matches []scored
	for _, in := range instincts {
		score := calculateScore(queryTokens, tokenize(in.Trigger+" "+in.Action))
		if score > 0 {
			matches = append(matches, scored{in: in, score: score})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].score > matches[j-1].score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if maxCount > 0 && len(matches) > maxCount {
		matches = matches[:maxCount]
	}

	out := make([]middleware.Instinct, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMiddlewareInstinct(applyConfidenceBoost(m.in)))
	}
	return out, nil
}

// ListHighConfidence implements middleware.InstinctProvider.
func (s *Store) ListHighConfidence(ctx context.Context, threadID string, minConfidence float64) ([]middleware.Instinct, error) {
	instincts, err := s.listInstincts(ctx, threadID, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]middleware.Instinct, 0, len(instincts))
	for _, in := range instincts {
		boosted := applyConfidenceBoost(in)
		if boosted.Confidence >= minConfidence {
			out = append(out, toMiddlewareInstinct(boosted))
		}
	}
	return out, nil
}

// applyConfidenceBoost returns in with its read-time confidence boosted for
// frequent reinforcement, per build_instincts_context: occurrence_count>=5
// adds min(0.15, count*0.03), capped at 1.0. The stored value is untouched;
// only the value read out for prompt injection is adjusted.
func applyConfidenceBoost(in domain.Instinct) domain.Instinct {
	if in.Metadata.OccurrenceCount < occurrenceBoostThreshold {
		return in
	}
	boost := math.Min(maxOccurrenceBoost, float64(in.Metadata.OccurrenceCount)*occurrenceBoostRate)
	in.Confidence = math.Min(1.0, in.Confidence+boost)
	return in
}

func toMiddlewareInstinct(in domain.Instinct) middleware.Instinct {
	return middleware.Instinct{
		Domain:     in.Domain,
		Trigger:    in.Trigger,
		Action:     in.Action,
		Confidence: in.Confidence,
	}
}

func (s *Store) listInstincts(ctx context.Context, threadID, dom string, limit int) ([]domain.Instinct, error) {
	query := `SELECT id, trigger, action, domain, confidence, source, occurrence_count, success_rate, last_triggered
		FROM instincts WHERE thread_id = ?`
	args := []any{threadID}
	if dom != "" {
		query += ` AND domain = ?`
		args = append(args, dom)
	}
	query += ` ORDER BY confidence DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instinct
	for rows.Next() {
		var in domain.Instinct
		var lastTriggered sql.NullString
		if err := rows.Scan(&in.ID, &in.Trigger, &in.Action, &in.Domain, &in.Confidence, &in.Source,
			&in.Metadata.OccurrenceCount, &in.Metadata.SuccessRate, &lastTriggered); err != nil {
			return nil, err
		}
		in.Metadata.LastTriggered = parseTSPtr(lastTriggered)
		out = append(out, in)
	}
	return out, rows.Err()
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
