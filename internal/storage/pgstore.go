package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/executive-assistant/ken/internal/domain"
)

// PGStore is the authoritative tenant-wide RelationalStore backend
// (Open Question #2), grounded on vanducng-goclaw's jackc/pgx/v5 usage.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore applies migrations and opens a pgx pool against dsn.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if err := MigratePostgres(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) ResolveAlias(ctx context.Context, userID string) (string, error) {
	seen := map[string]bool{}
	current := userID
	for {
		if seen[current] {
			return userID, nil
		}
		seen[current] = true

		var canonical string
		err := s.pool.QueryRow(ctx, `SELECT user_id FROM user_aliases WHERE alias_id = $1`, current).Scan(&canonical)
		if err == pgx.ErrNoRows {
			return current, nil
		}
		if err != nil {
			return "", err
		}
		if canonical == current {
			return current, nil
		}
		current = canonical
	}
}

func (s *PGStore) AddAlias(ctx context.Context, aliasID, canonicalUserID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_aliases (alias_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (alias_id) DO UPDATE SET user_id = excluded.user_id`,
		aliasID, canonicalUserID)
	return err
}

func (s *PGStore) CreateWorkspace(ctx context.Context, ws domain.Workspace) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workspaces (id, type, name, owner_id, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		ws.ID, string(ws.Type), ws.Name, ws.OwnerID, ws.CreatedAt.UTC())
	return err
}

func (s *PGStore) scanWorkspace(row pgx.Row) (domain.Workspace, bool, error) {
	var ws domain.Workspace
	var wsType string
	err := row.Scan(&ws.ID, &wsType, &ws.Name, &ws.OwnerID, &ws.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.Workspace{}, false, nil
	}
	if err != nil {
		return domain.Workspace{}, false, err
	}
	ws.Type = domain.WorkspaceType(wsType)
	return ws, true, nil
}

func (s *PGStore) GetWorkspace(ctx context.Context, id string) (domain.Workspace, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces WHERE id = $1`, id)
	return s.scanWorkspace(row)
}

func (s *PGStore) GetIndividualWorkspace(ctx context.Context, userID string) (domain.Workspace, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, name, owner_id, created_at FROM workspaces WHERE owner_id = $1 AND type = 'individual'`, userID)
	return s.scanWorkspace(row)
}

func (s *PGStore) GetPublicWorkspace(ctx context.Context) (domain.Workspace, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces WHERE type = 'public' LIMIT 1`)
	return s.scanWorkspace(row)
}

func (s *PGStore) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		var wsType string
		if err := rows.Scan(&ws.ID, &wsType, &ws.Name, &ws.OwnerID, &ws.CreatedAt); err != nil {
			return nil, err
		}
		ws.Type = domain.WorkspaceType(wsType)
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *PGStore) BindThread(ctx context.Context, threadID, workspaceID string) (string, error) {
	var actual string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO thread_workspaces (thread_id, workspace_id) VALUES ($1, $2)
		 ON CONFLICT (thread_id) DO UPDATE SET thread_id = thread_workspaces.thread_id
		 RETURNING workspace_id`, threadID, workspaceID).Scan(&actual)
	return actual, err
}

func (s *PGStore) GetThreadWorkspace(ctx context.Context, threadID string) (string, bool, error) {
	var workspaceID string
	err := s.pool.QueryRow(ctx, `SELECT workspace_id FROM thread_workspaces WHERE thread_id = $1`, threadID).Scan(&workspaceID)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	return workspaceID, err == nil, err
}

func (s *PGStore) ListMemberships(ctx context.Context, userID string) ([]domain.Member, error) {
	rows, err := s.pool.Query(ctx, `SELECT workspace_id, user_id, role FROM workspace_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.ScopeID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) GetMembership(ctx context.Context, workspaceID, userID string) (domain.Role, bool, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID).Scan(&role)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	return domain.Role(role), err == nil, err
}

func (s *PGStore) ListGroupMemberships(ctx context.Context, userID string) ([]domain.Member, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_id, user_id, role FROM group_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.ScopeID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) GetGroupRole(ctx context.Context, groupID, userID string) (domain.Role, bool, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID).Scan(&role)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	return domain.Role(role), err == nil, err
}

func (s *PGStore) ListACLGrants(ctx context.Context, userID string) ([]domain.ACLGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id, user_id, permission, expires_at FROM workspace_acl WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ACLGrant
	for rows.Next() {
		var g domain.ACLGrant
		var perm string
		var expires *time.Time
		if err := rows.Scan(&g.WorkspaceID, &g.UserID, &perm, &expires); err != nil {
			return nil, err
		}
		g.Permission = domain.Action(perm)
		g.ExpiresAt = expires
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateReminder(ctx context.Context, r domain.Reminder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminders (id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.ThreadID, r.Message, r.DueTime.UTC(), r.Recurrence, r.Timezone, string(r.Status), r.CreatedAt.UTC(), r.LastFiredAt)
	return err
}

func (s *PGStore) scanReminderRows(rows pgx.Rows) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for rows.Next() {
		var r domain.Reminder
		var status string
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Message, &r.DueTime, &r.Recurrence, &r.Timezone, &status, &r.CreatedAt, &r.LastFiredAt); err != nil {
			return nil, err
		}
		r.Status = domain.ReminderStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) GetDueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at
		 FROM reminders WHERE status = 'pending' AND due_time <= $1 ORDER BY due_time ASC`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanReminderRows(rows)
}

func (s *PGStore) ListReminders(ctx context.Context, threadID string) ([]domain.Reminder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at
		 FROM reminders WHERE thread_id = $1 ORDER BY due_time ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanReminderRows(rows)
}

func (s *PGStore) TransitionReminder(ctx context.Context, id string, from, to domain.ReminderStatus, firedAt *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminders SET status = $1, last_fired_at = COALESCE($2, last_fired_at) WHERE id = $3 AND status = $4`,
		string(to), firedAt, id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) CancelReminder(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE reminders SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id)
	return err
}

func (s *PGStore) CreateScheduledFlow(ctx context.Context, f domain.ScheduledFlow) error {
	specJSON, err := encodeFlowSpec(f.Spec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scheduled_flows (id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.OwnerUser, f.ThreadID, f.Name, specJSON, f.DueTime.UTC(), f.Cron, string(f.Status), f.Result, f.Error)
	return err
}

func (s *PGStore) scanFlowRows(rows pgx.Rows) ([]domain.ScheduledFlow, error) {
	var out []domain.ScheduledFlow
	for rows.Next() {
		var f domain.ScheduledFlow
		var status, specJSON string
		if err := rows.Scan(&f.ID, &f.OwnerUser, &f.ThreadID, &f.Name, &specJSON, &f.DueTime, &f.Cron, &status, &f.Result, &f.Error); err != nil {
			return nil, err
		}
		spec, err := decodeFlowSpec(specJSON)
		if err != nil {
			return nil, err
		}
		f.Spec = spec
		f.Status = domain.FlowStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGStore) GetDueFlows(ctx context.Context, now time.Time) ([]domain.ScheduledFlow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error
		 FROM scheduled_flows WHERE status = 'pending' AND due_time <= $1 ORDER BY due_time ASC`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanFlowRows(rows)
}

func (s *PGStore) GetFlow(ctx context.Context, id string) (domain.ScheduledFlow, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error
		 FROM scheduled_flows WHERE id = $1`, id)
	if err != nil {
		return domain.ScheduledFlow{}, false, err
	}
	defer rows.Close()
	flows, err := s.scanFlowRows(rows)
	if err != nil || len(flows) == 0 {
		return domain.ScheduledFlow{}, false, err
	}
	return flows[0], true, nil
}

func (s *PGStore) TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_flows SET status = $1, result = $2, error = $3 WHERE id = $4 AND status = $5`,
		string(to), result, errMsg, id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) SaveCheckpoint(ctx context.Context, threadID, checkpointID string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, data, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id, checkpoint_id) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		threadID, checkpointID, data, time.Now().UTC())
	return err
}

func (s *PGStore) LoadLatestCheckpoint(ctx context.Context, threadID string) ([]byte, string, bool, error) {
	var data []byte
	var checkpointID string
	err := s.pool.QueryRow(ctx,
		`SELECT checkpoint_id, data FROM checkpoints WHERE thread_id = $1 ORDER BY created_at DESC LIMIT 1`, threadID).
		Scan(&checkpointID, &data)
	if err == pgx.ErrNoRows {
		return nil, "", false, nil
	}
	return data, checkpointID, err == nil, err
}
