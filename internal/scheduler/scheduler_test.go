package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/storage"
)

// fakeStore embeds the (unimplemented, nil) RelationalStore interface so
// only the methods scheduler.go actually calls need overriding; any other
// method would panic if called, which is the point — it documents the
// scheduler's real surface area against the store.
type fakeStore struct {
	storage.RelationalStore

	mu         sync.Mutex
	reminders  []domain.Reminder
	flows      []domain.ScheduledFlow
	created    []domain.Reminder
	createdFlows []domain.ScheduledFlow
	transitions []string
}

func (f *fakeStore) GetDueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeStore) TransitionReminder(ctx context.Context, id string, from, to domain.ReminderStatus, firedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
	for i := range f.reminders {
		if f.reminders[i].ID == id && f.reminders[i].Status == from {
			f.reminders[i].Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateReminder(ctx context.Context, r domain.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, r)
	return nil
}

func (f *fakeStore) GetDueFlows(ctx context.Context, now time.Time) ([]domain.ScheduledFlow, error) {
	return f.flows, nil
}

func (f *fakeStore) TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.flows {
		if f.flows[i].ID == id && f.flows[i].Status == from {
			f.flows[i].Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateScheduledFlow(ctx context.Context, fl domain.ScheduledFlow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdFlows = append(f.createdFlows, fl)
	return nil
}

type fakeReminderSink struct {
	mu        sync.Mutex
	delivered []domain.Reminder
	err       error
}

func (s *fakeReminderSink) DeliverReminder(ctx context.Context, r domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, r)
	return s.err
}

type fakeFlowRunner struct {
	result string
	err    error
	calls  []domain.ScheduledFlow
}

func (r *fakeFlowRunner) RunScheduledFlow(ctx context.Context, f domain.ScheduledFlow) (string, error) {
	r.calls = append(r.calls, f)
	return r.result, r.err
}

func TestScheduler_FiresDueReminder_ExactlyOnce(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{reminders: []domain.Reminder{
		{ID: "r1", ThreadID: "telegram:1", Message: "stand up", DueTime: now.Add(-time.Minute), Status: domain.ReminderPending},
	}}
	sink := &fakeReminderSink{}
	s := New(store, sink, nil)

	s.fireDueReminders(context.Background(), now)

	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "r1", sink.delivered[0].ID)
	assert.Equal(t, domain.ReminderSent, store.reminders[0].Status)
}

func TestScheduler_RecurringReminder_InsertsSuccessorBeforeDelivery(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{reminders: []domain.Reminder{
		{ID: "r1", ThreadID: "telegram:1", Message: "daily standup", DueTime: now.Add(-time.Minute), Recurrence: "@daily", Status: domain.ReminderPending},
	}}
	sink := &fakeReminderSink{}
	s := New(store, sink, nil)

	s.fireDueReminders(context.Background(), now)

	require.Len(t, store.created, 1)
	assert.NotEqual(t, "r1", store.created[0].ID)
	assert.Equal(t, domain.ReminderPending, store.created[0].Status)
	assert.True(t, store.created[0].DueTime.After(now))
}

func TestScheduler_DeliveryFailure_TransitionsToFailed(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{reminders: []domain.Reminder{
		{ID: "r1", DueTime: now.Add(-time.Minute), Status: domain.ReminderPending},
	}}
	sink := &fakeReminderSink{err: errors.New("channel unreachable")}
	s := New(store, sink, nil)

	s.fireDueReminders(context.Background(), now)

	assert.Equal(t, domain.ReminderFailed, store.reminders[0].Status)
}

func TestScheduler_FiresDueFlow_ClaimsAndCompletes(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{flows: []domain.ScheduledFlow{
		{ID: "f1", Name: "daily-report", DueTime: now.Add(-time.Minute), Status: domain.FlowPending},
	}}
	runner := &fakeFlowRunner{result: `{"results":[]}`}
	s := New(store, nil, runner)

	s.fireDueFlows(context.Background(), now)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, domain.FlowCompleted, store.flows[0].Status)
}

func TestScheduler_FlowRunFailure_TransitionsToFailed(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{flows: []domain.ScheduledFlow{
		{ID: "f1", DueTime: now.Add(-time.Minute), Status: domain.FlowPending},
	}}
	runner := &fakeFlowRunner{err: errors.New("step failed")}
	s := New(store, nil, runner)

	s.fireDueFlows(context.Background(), now)

	assert.Equal(t, domain.FlowFailed, store.flows[0].Status)
}

func TestScheduler_RecurringFlow_InsertsSuccessor(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{flows: []domain.ScheduledFlow{
		{ID: "f1", DueTime: now.Add(-time.Minute), Cron: "0 9 * * *", Status: domain.FlowPending},
	}}
	runner := &fakeFlowRunner{result: "{}"}
	s := New(store, nil, runner)

	s.fireDueFlows(context.Background(), now)

	require.Len(t, store.createdFlows, 1)
	assert.Equal(t, domain.FlowPending, store.createdFlows[0].Status)
}

func TestNormalizeSchedule_NamedShortcuts(t *testing.T) {
	cron, warning := NormalizeSchedule("@daily")
	assert.Equal(t, "0 0 * * *", cron)
	assert.Empty(t, warning)
}

func TestNormalizeSchedule_DailyAtNaturalPhrase(t *testing.T) {
	cron, warning := NormalizeSchedule("daily at 9am")
	assert.Equal(t, "0 9 * * *", cron)
	assert.Empty(t, warning)

	cron, warning = NormalizeSchedule("daily at 5:30pm")
	assert.Equal(t, "30 17 * * *", cron)
	assert.Empty(t, warning)
}

func TestNormalizeSchedule_RawCronPassesThrough(t *testing.T) {
	cron, warning := NormalizeSchedule("15 2 * * 1-5")
	assert.Equal(t, "15 2 * * 1-5", cron)
	assert.Empty(t, warning)
}

func TestNormalizeSchedule_UnknownDegradesWithWarning(t *testing.T) {
	cron, warning := NormalizeSchedule("whenever")
	assert.Equal(t, fallbackSchedule, cron)
	assert.NotEmpty(t, warning)
}
