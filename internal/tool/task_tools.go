package tool

import (
	"fmt"
	"sync"
)

// TaskItem is a single scratch task-list entry, grounded on the teacher's
// v2/tool/todotool.TodoItem.
type TaskItem struct {
	ID      string `json:"id" jsonschema:"required,description=Unique identifier for the task"`
	Content string `json:"content" jsonschema:"required,description=Description of the task"`
	Status  string `json:"status" jsonschema:"required,description=pending, in_progress, completed, or canceled"`
}

// TaskManager tracks a per-thread scratch task list (supplemented
// feature: a structured progress tracker for multi-step work, grounded
// on the teacher's v2/tool/todotool.TodoManager and
// original_source/src/cassey/tools/task_state_tools.py's
// thread-scoped task state).
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string][]TaskItem
}

func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: map[string][]TaskItem{}}
}

// GetTasks returns a copy of threadID's task list.
func (m *TaskManager) GetTasks(threadID string) []TaskItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing := m.tasks[threadID]
	out := make([]TaskItem, len(existing))
	copy(out, existing)
	return out
}

type taskWriteArgs struct {
	Merge bool       `json:"merge" jsonschema:"required,description=true merges with the existing list (updates); false replaces it entirely"`
	Tasks []TaskItem `json:"tasks" jsonschema:"required,minItems=1,description=At least one item; you cannot clear the list, only mark items completed/canceled"`
}

func isValidTaskStatus(s string) bool {
	switch s {
	case "pending", "in_progress", "completed", "canceled":
		return true
	}
	return false
}

func taskStatusIcon(s string) string {
	switch s {
	case "pending":
		return "[PENDING]"
	case "in_progress":
		return "[IN PROGRESS]"
	case "completed":
		return "[DONE]"
	case "canceled":
		return "[CANCELLED]"
	default:
		return "[UNKNOWN]"
	}
}

// RegisterTaskTools wires task_write against the per-thread TaskManager.
func RegisterTaskTools(r *Registry, manager *TaskManager) error {
	schema, err := SchemaFor[taskWriteArgs]()
	if err != nil {
		return err
	}

	return r.Register("task_write", Tool{
		Name: "task_write",
		Description: "Create and manage a structured task list for tracking progress on multi-step work. " +
			"You cannot clear the list — it must always contain at least one item; completed tasks remain in it.",
		Schema: schema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			tasksRaw, _ := args["tasks"].([]any)
			if len(tasksRaw) == 0 {
				return "", fmt.Errorf("tasks array cannot be empty: you cannot clear the list, only mark items completed/canceled")
			}
			merge, _ := args["merge"].(bool)

			tasks := make([]TaskItem, 0, len(tasksRaw))
			for i, raw := range tasksRaw {
				m, _ := raw.(map[string]any)
				id, _ := m["id"].(string)
				content, _ := m["content"].(string)
				status, _ := m["status"].(string)
				if id == "" || content == "" || status == "" {
					return "", fmt.Errorf("task item %d is missing required fields (id, content, status)", i)
				}
				if !isValidTaskStatus(status) {
					return "", fmt.Errorf("task item %d has invalid status %q", i, status)
				}
				tasks = append(tasks, TaskItem{ID: id, Content: content, Status: status})
			}

			manager.mu.Lock()
			defer manager.mu.Unlock()

			if merge {
				existing := manager.tasks[cc.ThreadID]
				byID := make(map[string]int, len(existing))
				for i := range existing {
					byID[existing[i].ID] = i
				}
				for _, t := range tasks {
					if i, ok := byID[t.ID]; ok {
						existing[i] = t
					} else {
						existing = append(existing, t)
					}
				}
				manager.tasks[cc.ThreadID] = existing
			} else {
				manager.tasks[cc.ThreadID] = tasks
			}

			return summarizeTasks(manager.tasks[cc.ThreadID]), nil
		},
	})
}

func summarizeTasks(tasks []TaskItem) string {
	if len(tasks) == 0 {
		return "No active tasks"
	}
	var pending, inProgress, completed, canceled int
	for _, t := range tasks {
		switch t.Status {
		case "pending":
			pending++
		case "in_progress":
			inProgress++
		case "completed":
			completed++
		case "canceled":
			canceled++
		}
	}
	out := fmt.Sprintf("Task Summary: %d total (%d pending, %d in progress, %d completed, %d canceled)\n\n",
		len(tasks), pending, inProgress, completed, canceled)
	for _, t := range tasks {
		out += fmt.Sprintf("%s [%s] %s\n", taskStatusIcon(t.Status), t.ID, t.Content)
	}
	return out
}
