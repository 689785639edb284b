// Package domain holds the shared data model (spec.md §3) referenced by
// every subsystem. Keeping these types in one leaf package avoids import
// cycles between identity, storage, reasoning, scheduler, and flow.
package domain

import "time"

// WorkspaceType is the isolation-unit kind.
type WorkspaceType string

const (
	WorkspaceIndividual WorkspaceType = "individual"
	WorkspaceGroup      WorkspaceType = "group"
	WorkspacePublic     WorkspaceType = "public"
)

// Role is a membership/ACL role. The permission lattice is
// admin ⊇ {read,write,admin}, editor ⊇ {read,write}, reader ⊇ {read}.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)

// Action is a requested permission (spec.md §4.1 CanAccess).
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Allows reports whether holding Role r grants Action a.
func (r Role) Allows(a Action) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleEditor:
		return a == ActionRead || a == ActionWrite
	case RoleReader:
		return a == ActionRead
	default:
		return false
	}
}

// Rank orders roles for "highest role retained" de-duplication.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// User is an identity in the system.
type User struct {
	ID        string
	CreatedAt time.Time
}

// Workspace is the isolation unit (spec.md §3).
type Workspace struct {
	ID        string
	Type      WorkspaceType
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Member is a (workspace|group, user, role) row.
type Member struct {
	ScopeID string // workspace_id or group_id
	UserID  string
	Role    Role
}

// ACLGrant is an explicit access-control grant with optional expiry.
type ACLGrant struct {
	WorkspaceID string
	UserID      string
	Permission  Action
	ExpiresAt   *time.Time
}

// Attachment is a file reference carried on a Message.
type Attachment struct {
	Name        string
	ContentType string
	Path        string // resolved, sandboxed path once downloaded
	SizeBytes   int64
}

// Metadata carries channel-origin context on a Message.
type Metadata struct {
	Channel  string
	Username string
	ChatType string
}

// Message is the normalized conversational envelope (spec.md §3).
type Message struct {
	Content        string
	UserID         string
	ConversationID string
	MessageID      string
	Attachments    []Attachment
	Metadata       Metadata
	Role           string // "user" | "assistant" | "tool" | "system"
	ToolCalls      []ToolCall
	ToolCallID     string // set on role=="tool" messages
	CreatedAt      time.Time
}

// ToolCall is produced by the model, or parsed from embedded markup.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult is the single logical record produced per ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
}

// ReminderStatus is the reminder lifecycle state.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

// Reminder is a one-shot or recurring due-time job (spec.md §3).
type Reminder struct {
	ID           string
	ThreadID     string
	Message      string
	DueTime      time.Time
	Recurrence   string // cron expression, empty if one-shot
	Timezone     string
	Status       ReminderStatus
	CreatedAt    time.Time
	LastFiredAt  *time.Time
}

// FlowStatus is the scheduled-flow lifecycle state.
type FlowStatus string

const (
	FlowPending   FlowStatus = "pending"
	FlowRunning   FlowStatus = "running"
	FlowCompleted FlowStatus = "completed"
	FlowFailed    FlowStatus = "failed"
	FlowCancelled FlowStatus = "cancelled"
)

// ScheduleType names when a FlowSpec fires.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
	ScheduleRecurring ScheduleType = "recurring"
)

// AgentSpec is one step of a FlowSpec.
type AgentSpec struct {
	AgentID      string
	Model        string
	Tools        []string
	SystemPrompt string
	OutputSchema map[string]any
}

// FlowSpec describes a multi-step agent chain (spec.md §3).
type FlowSpec struct {
	FlowID             string
	Name               string
	Description        string
	Agents             []AgentSpec
	ScheduleType       ScheduleType
	Cron               string
	NotifyOnComplete   bool
	NotifyOnFailure    bool
	NotificationChannels []string
	MiddlewareConfig   map[string]any
}

// ScheduledFlow is a persisted, due-time-bound instance of a FlowSpec.
type ScheduledFlow struct {
	ID        string
	OwnerUser string
	ThreadID  string
	Name      string
	Spec      FlowSpec
	DueTime   time.Time
	Cron      string
	Status    FlowStatus
	Result    string
	Error     string
}

// MemoryType classifies a stored Memory.
type MemoryType string

const (
	MemorySemantic    MemoryType = "semantic"
	MemoryEpisodic    MemoryType = "episodic"
	MemoryProcedural  MemoryType = "procedural"
)

// Memory is a recalled fact/event/pattern (spec.md §3).
type Memory struct {
	ID           string
	ThreadID     string
	Content      string
	Type         MemoryType
	Confidence   float64
	Source       string
	Key          string
	Metadata     map[string]string
	CreatedAt    time.Time
	LastAccessed *time.Time
}

// InstinctMetadata carries the counters the confidence formula reads.
type InstinctMetadata struct {
	OccurrenceCount int
	LastTriggered   *time.Time
	SuccessRate     float64
}

// Instinct is a learned behavioral rule (spec.md §3, §4.9).
type Instinct struct {
	ID         string
	Trigger    string
	Action     string
	Domain     string
	Confidence float64 // base stored value, before read-time adjustment
	Metadata   InstinctMetadata
	Source     string
}
