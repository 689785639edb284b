package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/storage"
)

// fakeReminderStore implements only the reminder slice of
// storage.RelationalStore in-memory; every other method panics (via the
// nil embedded interface) if a test exercises unrelated surface.
type fakeReminderStore struct {
	storage.RelationalStore
	reminders map[string]domain.Reminder
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{reminders: map[string]domain.Reminder{}}
}

func (f *fakeReminderStore) CreateReminder(ctx context.Context, r domain.Reminder) error {
	f.reminders[r.ID] = r
	return nil
}

func (f *fakeReminderStore) ListReminders(ctx context.Context, threadID string) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for _, r := range f.reminders {
		if r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReminderStore) CancelReminder(ctx context.Context, id string) error {
	r, ok := f.reminders[id]
	if !ok || r.Status != domain.ReminderPending {
		return nil
	}
	r.Status = domain.ReminderCancelled
	f.reminders[id] = r
	return nil
}

func TestReminderTools_SetListCancel(t *testing.T) {
	store := newFakeReminderStore()
	loop := NewLoopBreakBuffer(time.Minute)
	r := New(loop)
	require.NoError(t, RegisterReminderTools(r, store))

	cc := CallContext{Context: context.Background(), WorkspaceID: "ws1", ThreadID: "thread1", UserID: "u1"}

	out := r.Dispatch(context.Background(), cc, "call-1", "remind_me", map[string]any{
		"message": "stand up", "time": "in 30 minutes",
	})
	assert.Contains(t, out, "Reminder set for")
	require.Len(t, store.reminders, 1)

	var remID string
	for id := range store.reminders {
		remID = id
	}

	listOut := r.Dispatch(context.Background(), cc, "call-2", "reminder_list", map[string]any{})
	assert.Contains(t, listOut, remID)
	assert.Contains(t, listOut, "stand up")

	cancelOut := r.Dispatch(context.Background(), cc, "call-3", "reminder_cancel", map[string]any{"reminder_id": remID})
	assert.Contains(t, cancelOut, "cancelled")
	assert.Equal(t, domain.ReminderCancelled, store.reminders[remID].Status)

	// Cancelling again should report it is no longer pending.
	cancelAgain := r.Dispatch(context.Background(), cc, "call-4", "reminder_cancel", map[string]any{"reminder_id": remID})
	assert.Contains(t, cancelAgain, "not pending")
}

func TestReminderTools_CancelUnknownID(t *testing.T) {
	store := newFakeReminderStore()
	loop := NewLoopBreakBuffer(time.Minute)
	r := New(loop)
	require.NoError(t, RegisterReminderTools(r, store))

	cc := CallContext{Context: context.Background(), WorkspaceID: "ws1", ThreadID: "thread1", UserID: "u1"}
	out := r.Dispatch(context.Background(), cc, "call-1", "reminder_cancel", map[string]any{"reminder_id": "nope"})
	assert.Contains(t, out, "only cancel your own reminders")
}
