package storage

import (
	"context"
	"time"

	"github.com/executive-assistant/ken/internal/domain"
)

// RelationalStore is the tenant-wide relational backend contract
// (spec.md §6.3 tables). Both SQLiteStore (embedded/dev) and PGStore
// (authoritative per Open Question #2) implement it identically so the
// rest of the runtime is storage-backend agnostic.
type RelationalStore interface {
	// Ping verifies the backend connection is reachable, for the
	// readiness probe (spec.md §6.1 `/health/ready`).
	Ping(ctx context.Context) error

	// Identity & workspace (C1)
	ResolveAlias(ctx context.Context, userID string) (canonical string, err error)
	AddAlias(ctx context.Context, aliasID, canonicalUserID string) error
	CreateWorkspace(ctx context.Context, ws domain.Workspace) error
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, bool, error)
	GetIndividualWorkspace(ctx context.Context, userID string) (domain.Workspace, bool, error)
	GetPublicWorkspace(ctx context.Context) (domain.Workspace, bool, error)
	// BindThread upserts thread->workspace first-write-wins. Returns the
	// workspace actually bound (which may differ from workspaceID if a
	// concurrent writer won).
	BindThread(ctx context.Context, threadID, workspaceID string) (actual string, err error)
	GetThreadWorkspace(ctx context.Context, threadID string) (workspaceID string, ok bool, err error)
	ListMemberships(ctx context.Context, userID string) ([]domain.Member, error)
	GetMembership(ctx context.Context, workspaceID, userID string) (domain.Role, bool, error)
	ListGroupMemberships(ctx context.Context, userID string) ([]domain.Member, error)
	GetGroupRole(ctx context.Context, groupID, userID string) (domain.Role, bool, error)
	ListACLGrants(ctx context.Context, userID string) ([]domain.ACLGrant, error)
	ListWorkspaces(ctx context.Context) ([]domain.Workspace, error)

	// Reminders (C7)
	CreateReminder(ctx context.Context, r domain.Reminder) error
	GetDueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error)
	// TransitionReminder performs UPDATE ... WHERE status=from, returning
	// whether this caller won the transition (exactly-once guard).
	TransitionReminder(ctx context.Context, id string, from, to domain.ReminderStatus, firedAt *time.Time) (bool, error)
	ListReminders(ctx context.Context, threadID string) ([]domain.Reminder, error)
	CancelReminder(ctx context.Context, id string) error

	// Scheduled flows (C8)
	CreateScheduledFlow(ctx context.Context, f domain.ScheduledFlow) error
	GetDueFlows(ctx context.Context, now time.Time) ([]domain.ScheduledFlow, error)
	TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error)
	GetFlow(ctx context.Context, id string) (domain.ScheduledFlow, bool, error)

	// Checkpoints (C4)
	SaveCheckpoint(ctx context.Context, threadID, checkpointID string, data []byte) error
	LoadLatestCheckpoint(ctx context.Context, threadID string) (data []byte, checkpointID string, ok bool, err error)

	Close() error
}
