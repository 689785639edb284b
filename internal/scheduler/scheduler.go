// Package scheduler implements the Scheduler (C7): a single-writer tick
// loop that fires due reminders and scheduled flows, re-entering C6 and
// C8 respectively. Grounded on vanducng-goclaw's gateway cron/reminder
// dispatch loop for the tick-and-claim shape; the teacher itself has no
// scheduler component to draw from.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/storage"
)

// DefaultTickInterval is the scheduler's polling cadence; spec.md §4.7
// bounds this at ≤30s.
const DefaultTickInterval = 15 * time.Second

// ReminderSink is the narrow seam into C6 a fired reminder is delivered
// through: it synthesizes an envelope addressed to the reminder's owning
// thread/channel and injects it directly, bypassing the external
// transport (spec.md §4.7 Re-entry). Defined locally to avoid this
// package importing internal/channel.
type ReminderSink interface {
	DeliverReminder(ctx context.Context, r domain.Reminder) error
}

// FlowRunner is the narrow seam into C8. Defined locally for the same
// reason as ReminderSink — avoids importing internal/flow.
type FlowRunner interface {
	RunScheduledFlow(ctx context.Context, f domain.ScheduledFlow) (result string, err error)
}

// Scheduler is a single-writer, per-process tick loop.
type Scheduler struct {
	Store        storage.RelationalStore
	Reminders    ReminderSink
	Flows        FlowRunner
	TickInterval time.Duration
}

// New builds a Scheduler with DefaultTickInterval.
func New(store storage.RelationalStore, reminders ReminderSink, flows FlowRunner) *Scheduler {
	return &Scheduler{Store: store, Reminders: reminders, Flows: flows, TickInterval: DefaultTickInterval}
}

// Run blocks, ticking until ctx is cancelled. Each tick fires due
// reminders then due flows; a tick's work does not overlap the next
// (tick runs synchronously on this goroutine, and ticks that arrive while
// it is busy are dropped by time.Ticker), keeping this a true
// single-writer scheduler even if firing work is slower than TickInterval.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	s.fireDueReminders(ctx, now)
	s.fireDueFlows(ctx, now)
}

// fireDueReminders claims and delivers every reminder due at or before
// now. Reminders have no "running" status in the data model (spec.md
// §3's enum is pending|sent|cancelled|failed); the atomic pending→sent
// transition itself is the exactly-once claim, and a delivery failure
// after the claim compensates with a sent→failed transition (decision
// recorded in DESIGN.md).
func (s *Scheduler) fireDueReminders(ctx context.Context, now time.Time) {
	due, err := s.Store.GetDueReminders(ctx, now)
	if err != nil {
		logctx.From(ctx).Error("scheduler: list due reminders failed", "error", err)
		return
	}

	for _, r := range due {
		s.fireReminder(ctx, r, now)
	}
}

func (s *Scheduler) fireReminder(ctx context.Context, r domain.Reminder, now time.Time) {
	claimed, err := s.Store.TransitionReminder(ctx, r.ID, domain.ReminderPending, domain.ReminderSent, &now)
	if err != nil {
		logctx.From(ctx).Error("scheduler: claim reminder failed", "reminder_id", r.ID, "error", err)
		return
	}
	if !claimed {
		// Another worker (or a previous crash-recovered pass) already
		// claimed this row; exactly-once semantics hold.
		return
	}

	if r.Recurrence != "" {
		if err := s.scheduleNextReminder(ctx, r, now); err != nil {
			logctx.From(ctx).Error("scheduler: schedule recurring reminder failed", "reminder_id", r.ID, "error", err)
		}
	}

	if s.Reminders == nil {
		return
	}
	if err := s.Reminders.DeliverReminder(ctx, r); err != nil {
		logctx.From(ctx).Error("scheduler: deliver reminder failed", "reminder_id", r.ID, "error", err)
		if _, tErr := s.Store.TransitionReminder(ctx, r.ID, domain.ReminderSent, domain.ReminderFailed, nil); tErr != nil {
			logctx.From(ctx).Error("scheduler: mark reminder failed transition failed", "reminder_id", r.ID, "error", tErr)
		}
	}
}

// scheduleNextReminder inserts the successor row for a recurring
// reminder, computed via the cron parser, after the caller has claimed the
// current row as sent and before it delivers it.
func (s *Scheduler) scheduleNextReminder(ctx context.Context, r domain.Reminder, now time.Time) error {
	cronExpr, warning := NormalizeSchedule(r.Recurrence)
	if warning != "" {
		logctx.From(ctx).Warn("scheduler: recurring reminder schedule normalized", "reminder_id", r.ID, "warning", warning)
	}
	next, err := NextCronTime(cronExpr, now)
	if err != nil {
		return fmt.Errorf("compute next occurrence: %w", err)
	}
	successor := r
	successor.ID = uuid.NewString()
	successor.DueTime = next
	successor.Status = domain.ReminderPending
	successor.LastFiredAt = nil
	successor.CreatedAt = now
	return s.Store.CreateReminder(ctx, successor)
}

// fireDueFlows claims and runs every scheduled flow due at or before
// now.
func (s *Scheduler) fireDueFlows(ctx context.Context, now time.Time) {
	due, err := s.Store.GetDueFlows(ctx, now)
	if err != nil {
		logctx.From(ctx).Error("scheduler: list due flows failed", "error", err)
		return
	}

	for _, f := range due {
		s.fireFlow(ctx, f, now)
	}
}

func (s *Scheduler) fireFlow(ctx context.Context, f domain.ScheduledFlow, now time.Time) {
	claimed, err := s.Store.TransitionFlow(ctx, f.ID, domain.FlowPending, domain.FlowRunning, "", "")
	if err != nil {
		logctx.From(ctx).Error("scheduler: claim flow failed", "flow_id", f.ID, "error", err)
		return
	}
	if !claimed {
		return
	}

	if f.Cron != "" {
		if err := s.scheduleNextFlow(ctx, f, now); err != nil {
			logctx.From(ctx).Error("scheduler: schedule recurring flow failed", "flow_id", f.ID, "error", err)
		}
	}

	if s.Flows == nil {
		return
	}

	result, err := s.Flows.RunScheduledFlow(ctx, f)
	if err != nil {
		if _, tErr := s.Store.TransitionFlow(ctx, f.ID, domain.FlowRunning, domain.FlowFailed, "", err.Error()); tErr != nil {
			logctx.From(ctx).Error("scheduler: mark flow failed transition failed", "flow_id", f.ID, "error", tErr)
		}
		return
	}
	if _, tErr := s.Store.TransitionFlow(ctx, f.ID, domain.FlowRunning, domain.FlowCompleted, result, ""); tErr != nil {
		logctx.From(ctx).Error("scheduler: mark flow completed transition failed", "flow_id", f.ID, "error", tErr)
	}
}

func (s *Scheduler) scheduleNextFlow(ctx context.Context, f domain.ScheduledFlow, now time.Time) error {
	next, err := NextCronTime(f.Cron, now)
	if err != nil {
		return fmt.Errorf("compute next occurrence: %w", err)
	}
	successor := f
	successor.ID = uuid.NewString()
	successor.DueTime = next
	successor.Status = domain.FlowPending
	successor.Result = ""
	successor.Error = ""
	return s.Store.CreateScheduledFlow(ctx, successor)
}
