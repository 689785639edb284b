package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/executive-assistant/ken/internal/domain"
)

// SQLiteStore is the embedded/dev RelationalStore backend, grounded on
// modernc.org/sqlite (pure Go, no cgo) per vanducng-goclaw/thrapt-picobot.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore applies migrations and opens dsn (a file path or
// ":memory:") as the global relational store.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	if err := MigrateSQLite(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer per workspace process (spec.md §5)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteStore) ResolveAlias(ctx context.Context, userID string) (string, error) {
	seen := map[string]bool{}
	current := userID
	for {
		if seen[current] {
			return userID, nil // cycle detected: return original, never raise
		}
		seen[current] = true

		var canonical string
		err := s.db.QueryRowContext(ctx, `SELECT user_id FROM user_aliases WHERE alias_id = ?`, current).Scan(&canonical)
		if err == sql.ErrNoRows {
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

func (s *SQLiteStore) AddAlias(ctx context.Context, aliasID, canonicalUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_aliases (alias_id, user_id) VALUES (?, ?)
		 ON CONFLICT (alias_id) DO UPDATE SET user_id = excluded.user_id`,
		aliasID, canonicalUserID)
	return err
}

func (s *SQLiteStore) CreateWorkspace(ctx context.Context, ws domain.Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, type, name, owner_id, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		ws.ID, string(ws.Type), ws.Name, ws.OwnerID, ts(ws.CreatedAt))
	return err
}

func (s *SQLiteStore) scanWorkspace(row *sql.Row) (domain.Workspace, bool, error) {
	var ws domain.Workspace
	var wsType, createdAt string
	err := row.Scan(&ws.ID, &wsType, &ws.Name, &ws.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Workspace{}, false, nil
	}
	if err != nil {
		return domain.Workspace{}, false, err
	}
	ws.Type = domain.WorkspaceType(wsType)
	ws.CreatedAt = parseTS(createdAt)
	return ws, true, nil
}

func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (domain.Workspace, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces WHERE id = ?`, id)
	return s.scanWorkspace(row)
}

func (s *SQLiteStore) GetIndividualWorkspace(ctx context.Context, userID string) (domain.Workspace, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, name, owner_id, created_at FROM workspaces WHERE owner_id = ? AND type = 'individual'`, userID)
	return s.scanWorkspace(row)
}

func (s *SQLiteStore) GetPublicWorkspace(ctx context.Context) (domain.Workspace, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces WHERE type = 'public' LIMIT 1`)
	return s.scanWorkspace(row)
}

func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, name, owner_id, created_at FROM workspaces`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		var wsType, createdAt string
		if err := rows.Scan(&ws.ID, &wsType, &ws.Name, &ws.OwnerID, &createdAt); err != nil {
			return nil, err
		}
		ws.Type = domain.WorkspaceType(wsType)
		ws.CreatedAt = parseTS(createdAt)
		out = append(out, ws)
	}
	return out, rows.Err()
}

// BindThread upserts the first-write-wins thread->workspace mapping.
// INSERT OR IGNORE followed by a read gives convergence under concurrency:
// exactly one writer's INSERT lands, every caller reads back the same row.
func (s *SQLiteStore) BindThread(ctx context.Context, threadID, workspaceID string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_workspaces (thread_id, workspace_id) VALUES (?, ?)
		 ON CONFLICT (thread_id) DO NOTHING`, threadID, workspaceID)
	if err != nil {
		return "", err
	}
	var actual string
	err = s.db.QueryRowContext(ctx, `SELECT workspace_id FROM thread_workspaces WHERE thread_id = ?`, threadID).Scan(&actual)
	return actual, err
}

func (s *SQLiteStore) GetThreadWorkspace(ctx context.Context, threadID string) (string, bool, error) {
	var workspaceID string
	err := s.db.QueryRowContext(ctx, `SELECT workspace_id FROM thread_workspaces WHERE thread_id = ?`, threadID).Scan(&workspaceID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return workspaceID, err == nil, err
}

func (s *SQLiteStore) ListMemberships(ctx context.Context, userID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workspace_id, user_id, role FROM workspace_members WHERE user_id = ?`, userID)
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

func (s *SQLiteStore) GetMembership(ctx context.Context, workspaceID, userID string) (domain.Role, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return domain.Role(role), err == nil, err
}

func (s *SQLiteStore) ListGroupMemberships(ctx context.Context, userID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, user_id, role FROM group_members WHERE user_id = ?`, userID)
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

func (s *SQLiteStore) GetGroupRole(ctx context.Context, groupID, userID string) (domain.Role, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return domain.Role(role), err == nil, err
}

func (s *SQLiteStore) ListACLGrants(ctx context.Context, userID string) ([]domain.ACLGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, user_id, permission, expires_at FROM workspace_acl WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ACLGrant
	for rows.Next() {
		var g domain.ACLGrant
		var perm string
		var expires sql.NullString
		if err := rows.Scan(&g.WorkspaceID, &g.UserID, &perm, &expires); err != nil {
			return nil, err
		}
		g.Permission = domain.Action(perm)
		if expires.Valid {
			t := parseTS(expires.String)
			g.ExpiresAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateReminder(ctx context.Context, r domain.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.Message, ts(r.DueTime), r.Recurrence, r.Timezone, string(r.Status), ts(r.CreatedAt), nullableTS(r.LastFiredAt))
	return err
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func (s *SQLiteStore) scanReminders(rows *sql.Rows) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for rows.Next() {
		var r domain.Reminder
		var due, created string
		var recurrence, tz, lastFired sql.NullString
		var status string
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Message, &due, &recurrence, &tz, &status, &created, &lastFired); err != nil {
			return nil, err
		}
		r.DueTime = parseTS(due)
		r.CreatedAt = parseTS(created)
		r.Recurrence = recurrence.String
		r.Timezone = tz.String
		r.Status = domain.ReminderStatus(status)
		if lastFired.Valid {
			t := parseTS(lastFired.String)
			r.LastFiredAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at
		 FROM reminders WHERE status = 'pending' AND due_time <= ? ORDER BY due_time ASC`, ts(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanReminders(rows)
}

func (s *SQLiteStore) ListReminders(ctx context.Context, threadID string) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, message, due_time, recurrence, timezone, status, created_at, last_fired_at
		 FROM reminders WHERE thread_id = ? ORDER BY due_time ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanReminders(rows)
}

// TransitionReminder guards the state change with WHERE status=from so
// exactly one of several concurrent schedulers wins (spec.md §4.7).
func (s *SQLiteStore) TransitionReminder(ctx context.Context, id string, from, to domain.ReminderStatus, firedAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, last_fired_at = COALESCE(?, last_fired_at) WHERE id = ? AND status = ?`,
		string(to), nullableTS(firedAt), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) CancelReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET status = 'cancelled' WHERE id = ? AND status = 'pending'`, id)
	return err
}

func (s *SQLiteStore) CreateScheduledFlow(ctx context.Context, f domain.ScheduledFlow) error {
	specJSON, err := encodeFlowSpec(f.Spec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_flows (id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerUser, f.ThreadID, f.Name, specJSON, ts(f.DueTime), f.Cron, string(f.Status), f.Result, f.Error)
	return err
}

func (s *SQLiteStore) scanFlows(rows *sql.Rows) ([]domain.ScheduledFlow, error) {
	var out []domain.ScheduledFlow
	for rows.Next() {
		var f domain.ScheduledFlow
		var due string
		var cron, result, errMsg sql.NullString
		var status, specJSON string
		if err := rows.Scan(&f.ID, &f.OwnerUser, &f.ThreadID, &f.Name, &specJSON, &due, &cron, &status, &result, &errMsg); err != nil {
			return nil, err
		}
		spec, err := decodeFlowSpec(specJSON)
		if err != nil {
			return nil, err
		}
		f.Spec = spec
		f.DueTime = parseTS(due)
		f.Cron = cron.String
		f.Status = domain.FlowStatus(status)
		f.Result = result.String
		f.Error = errMsg.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDueFlows(ctx context.Context, now time.Time) ([]domain.ScheduledFlow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error
		 FROM scheduled_flows WHERE status = 'pending' AND due_time <= ? ORDER BY due_time ASC`, ts(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanFlows(rows)
}

func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (domain.ScheduledFlow, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_user, thread_id, name, flow_spec, due_time, cron, status, result, error
		 FROM scheduled_flows WHERE id = ?`, id)
	if err != nil {
		return domain.ScheduledFlow{}, false, err
	}
	defer rows.Close()
	flows, err := s.scanFlows(rows)
	if err != nil || len(flows) == 0 {
		return domain.ScheduledFlow{}, false, err
	}
	return flows[0], true, nil
}

func (s *SQLiteStore) TransitionFlow(ctx context.Context, id string, from, to domain.FlowStatus, result, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_flows SET status = ?, result = ?, error = ? WHERE id = ? AND status = ?`,
		string(to), result, errMsg, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, threadID, checkpointID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (thread_id, checkpoint_id) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		threadID, checkpointID, data, ts(time.Now()))
	return err
}

func (s *SQLiteStore) LoadLatestCheckpoint(ctx context.Context, threadID string) ([]byte, string, bool, error) {
	var data []byte
	var checkpointID string
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, data FROM checkpoints WHERE thread_id = ? ORDER BY created_at DESC LIMIT 1`, threadID).
		Scan(&checkpointID, &data)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	return data, checkpointID, err == nil, err
}
