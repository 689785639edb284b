package tool

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/scheduler"
	"github.com/executive-assistant/ken/internal/storage"
)

type reminderSetArgs struct {
	Message    string `json:"message" jsonschema:"required,description=What to remind about"`
	Time       string `json:"time" jsonschema:"required,description=When to remind; e.g. 'in 30 minutes'\\, 'tomorrow at 9am'\\, 'next monday'"`
	Recurrence string `json:"recurrence,omitempty" jsonschema:"description=Optional cron recurrence expression"`
	Timezone   string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name, e.g. America/New_York"`
}

type reminderListArgs struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by status: pending, sent, cancelled, failed"`
}

type reminderCancelArgs struct {
	ReminderID string `json:"reminder_id" jsonschema:"required"`
}

// RegisterReminderTools wires remind_me/reminder_list/reminder_cancel
// against store, grounded on
// original_source/src/executive_assistant/tools/reminder_tools.py.
func RegisterReminderTools(r *Registry, store storage.RelationalStore) error {
	setSchema, err := SchemaFor[reminderSetArgs]()
	if err != nil {
		return err
	}
	listSchema, err := SchemaFor[reminderListArgs]()
	if err != nil {
		return err
	}
	cancelSchema, err := SchemaFor[reminderCancelArgs]()
	if err != nil {
		return err
	}

	if err := r.RegisterWithTimeout(Tool{
		Name:        "remind_me",
		Description: "Set a reminder that will be delivered back to this conversation at the given time.",
		Schema:      setSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			message, _ := args["message"].(string)
			timeExpr, _ := args["time"].(string)
			recurrence, _ := args["recurrence"].(string)
			timezone, _ := args["timezone"].(string)

			due, err := scheduler.ParseTimeExpression(timeExpr, timezone, time.Now())
			if err != nil {
				return "", err
			}

			reminder := domain.Reminder{
				ID:         "rem_" + uuid.NewString(),
				ThreadID:   cc.ThreadID,
				Message:    message,
				DueTime:    due,
				Recurrence: recurrence,
				Timezone:   timezone,
				Status:     domain.ReminderPending,
				CreatedAt:  time.Now(),
			}
			if err := store.CreateReminder(cc.Context, reminder); err != nil {
				return "", fmt.Errorf("remind_me: %w", err)
			}

			recurrenceStr, tzStr := "", ""
			if recurrence != "" {
				recurrenceStr = fmt.Sprintf(" (recurring: %s)", recurrence)
			}
			if timezone != "" {
				tzStr = fmt.Sprintf(" (%s)", timezone)
			}
			return fmt.Sprintf("Reminder set for %s%s%s. ID: %s",
				due.Format("2006-01-02 15:04"), tzStr, recurrenceStr, reminder.ID), nil
		},
	}, ReminderLookupTimeout); err != nil {
		return err
	}

	if err := r.RegisterWithTimeout(Tool{
		Name:        "reminder_list",
		Description: "List reminders for the current conversation, optionally filtered by status.",
		Schema:      listSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			status, _ := args["status"].(string)
			if status != "" {
				switch domain.ReminderStatus(status) {
				case domain.ReminderPending, domain.ReminderSent, domain.ReminderCancelled, domain.ReminderFailed:
				default:
					return "Invalid status. Use one of: pending, sent, cancelled, failed", nil
				}
			}

			reminders, err := store.ListReminders(cc.Context, cc.ThreadID)
			if err != nil {
				return "", fmt.Errorf("reminder_list: %w", err)
			}
			if status != "" {
				filtered := reminders[:0]
				for _, rem := range reminders {
					if string(rem.Status) == status {
						filtered = append(filtered, rem)
					}
				}
				reminders = filtered
			}
			if len(reminders) == 0 {
				return "No reminders found.", nil
			}

			sort.Slice(reminders, func(i, j int) bool { return reminders[i].DueTime.Before(reminders[j].DueTime) })
			out := fmt.Sprintf("%-24s %-10s %-20s %s\n", "ID", "Status", "Due Time", "Message")
			for _, rem := range reminders {
				out += fmt.Sprintf("%-24s %-10s %-20s %s\n", rem.ID, rem.Status, rem.DueTime.Format("2006-01-02 15:04"), rem.Message)
			}
			return out, nil
		},
	}, ReminderLookupTimeout); err != nil {
		return err
	}

	return r.RegisterWithTimeout(Tool{
		Name:        "reminder_cancel",
		Description: "Cancel a pending reminder by ID.",
		Schema:      cancelSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			id, _ := args["reminder_id"].(string)

			reminders, err := store.ListReminders(cc.Context, cc.ThreadID)
			if err != nil {
				return "", fmt.Errorf("reminder_cancel: %w", err)
			}
			var found *domain.Reminder
			for i := range reminders {
				if reminders[i].ID == id {
					found = &reminders[i]
					break
				}
			}
			if found == nil {
				return "You can only cancel your own reminders.", nil
			}
			if found.Status != domain.ReminderPending {
				return fmt.Sprintf("Reminder %s is not pending (status: %s).", id, found.Status), nil
			}

			if err := store.CancelReminder(cc.Context, id); err != nil {
				return "", fmt.Errorf("reminder_cancel: %w", err)
			}
			return fmt.Sprintf("Reminder %s cancelled.", id), nil
		},
	}, ReminderLookupTimeout)
}
