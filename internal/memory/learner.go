package memory

import "context"

// learningMinConfidence mirrors MemoryLearningMiddleware's default
// min_confidence=0.6 gate on rule-extracted memories.
const learningMinConfidence = 0.6

// Learner adapts Store+Observer to middleware.Learner, so cmd/ken can wire
// a single value into middleware.NewLearningMW without that package
// depending on internal/memory's two-type split.
type Learner struct {
	Store    *Store
	Observer *Observer
}

func NewLearner(store *Store) *Learner {
	return &Learner{Store: store, Observer: NewObserver(store)}
}

func (l *Learner) LearnFromMessage(ctx context.Context, threadID, userMessage string) error {
	_, err := l.Store.LearnFromMessage(ctx, threadID, userMessage, learningMinConfidence)
	return err
}

func (l *Learner) ObserveMessage(ctx context.Context, threadID, userMessage string) ([]string, error) {
	return l.Observer.ObserveMessage(ctx, threadID, userMessage)
}

func (l *Learner) ObserveOutcome(ctx context.Context, threadID, userMessage string, appliedInstinctIDs []string) error {
	_, err := l.Observer.ObserveConversationOutcome(ctx, userMessage, appliedInstinctIDs)
	return err
}
