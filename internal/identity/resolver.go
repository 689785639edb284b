// Package identity implements the Identity & Workspace Resolver (C1):
// alias resolution, workspace creation, thread binding, and the
// access-control precedence lattice that every tool and channel
// handler consults before touching workspace state.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/storage"
)

// Resolver implements spec.md §4.1 on top of a RelationalStore.
type Resolver struct {
	store storage.RelationalStore
}

// New returns a Resolver backed by store.
func New(store storage.RelationalStore) *Resolver {
	return &Resolver{store: store}
}

// ResolveAlias follows the alias chain with cycle detection, deferring
// to the store's own cycle-safe walk. Per spec, alias cycles return the
// original user_id and never raise.
func (r *Resolver) ResolveAlias(ctx context.Context, userID string) (string, error) {
	return r.store.ResolveAlias(ctx, userID)
}

// EnsureWorkspace returns canonicalUserID's individual workspace,
// creating it on first call. Idempotent under concurrent callers: a
// losing CreateWorkspace racer simply re-reads the winner's row.
func (r *Resolver) EnsureWorkspace(ctx context.Context, canonicalUserID string) (string, error) {
	ws, ok, err := r.store.GetIndividualWorkspace(ctx, canonicalUserID)
	if err != nil {
		return "", err
	}
	if ok {
		return ws.ID, nil
	}

	newWS := domain.Workspace{
		ID:      "ws_" + uuid.NewString(),
		Type:    domain.WorkspaceIndividual,
		Name:    canonicalUserID,
		OwnerID: canonicalUserID,
	}
	if err := r.store.CreateWorkspace(ctx, newWS); err != nil {
		return "", err
	}

	ws, ok, err = r.store.GetIndividualWorkspace(ctx, canonicalUserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("identity: workspace vanished immediately after create for %s", canonicalUserID)
	}
	return ws.ID, nil
}

// BindThread resolves userID's alias, ensures its individual workspace
// exists, and upserts thread_id → workspace_id. Concurrent calls for the
// same thread_id converge on whichever write landed first; the store's
// BindThread performs the first-write-wins upsert.
func (r *Resolver) BindThread(ctx context.Context, threadID, userID string) (string, error) {
	canonical, err := r.ResolveAlias(ctx, userID)
	if err != nil {
		return "", err
	}
	workspaceID, err := r.EnsureWorkspace(ctx, canonical)
	if err != nil {
		return "", err
	}
	return r.store.BindThread(ctx, threadID, workspaceID)
}

// CanAccess computes whether userID may perform action on workspaceID,
// per the precedence owner > explicit member > group > public > ACL
// (spec.md §4.1). It short-circuits at the first source that resolves a
// role, since sources are defined as mutually exclusive precedence
// tiers, not additive grants.
func (r *Resolver) CanAccess(ctx context.Context, userID, workspaceID string, action domain.Action) (bool, error) {
	ws, ok, err := r.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errs.WorkspaceNotFound("identity", "can_access", workspaceID)
	}

	canonical, err := r.ResolveAlias(ctx, userID)
	if err != nil {
		return false, err
	}

	if ws.OwnerID == canonical {
		return true, nil
	}

	if role, ok, err := r.store.GetMembership(ctx, workspaceID, canonical); err != nil {
		return false, err
	} else if ok {
		return role.Allows(action), nil
	}

	if role, ok, err := r.groupRole(ctx, workspaceID, canonical); err != nil {
		return false, err
	} else if ok {
		return role.Allows(action), nil
	}

	if ws.Type == domain.WorkspacePublic {
		return action == domain.ActionRead, nil
	}

	grants, err := r.store.ListACLGrants(ctx, canonical)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.WorkspaceID != workspaceID {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(time.Now()) {
			continue
		}
		if g.Permission == action || g.Permission == domain.ActionAdmin {
			return true, nil
		}
	}
	return false, nil
}

// groupRole maps canonicalUserID's group memberships that include
// workspaceID onto a workspace role: group admin ⇒ workspace admin,
// any other group member ⇒ reader.
func (r *Resolver) groupRole(ctx context.Context, workspaceID, canonicalUserID string) (domain.Role, bool, error) {
	memberships, err := r.store.ListGroupMemberships(ctx, canonicalUserID)
	if err != nil {
		return "", false, err
	}
	best := domain.Role("")
	found := false
	for _, m := range memberships {
		belongs, err := r.groupHasWorkspace(ctx, m.ScopeID, workspaceID)
		if err != nil {
			return "", false, err
		}
		if !belongs {
			continue
		}
		role := domain.RoleReader
		if m.Role == domain.RoleAdmin {
			role = domain.RoleAdmin
		}
		if !found || role.Rank() > best.Rank() {
			best, found = role, true
		}
	}
	return best, found, nil
}

// groupHasWorkspace is intentionally backed by the same ListGroupMemberships
// query surface exposed through the store; group→workspace membership is
// resolved via GetGroupRole against the workspace's implicit group binding
// when the store records one.
func (r *Resolver) groupHasWorkspace(ctx context.Context, groupID, workspaceID string) (bool, error) {
	_, ok, err := r.store.GetGroupRole(ctx, groupID, workspaceID)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ListAccessibleWorkspaces returns the union of owned, explicitly
// shared, group-shared, and ACL-granted workspaces for userID,
// de-duplicated by workspace ID with the highest role retained.
func (r *Resolver) ListAccessibleWorkspaces(ctx context.Context, userID string) ([]domain.Member, error) {
	canonical, err := r.ResolveAlias(ctx, userID)
	if err != nil {
		return nil, err
	}

	best := map[string]domain.Role{}

	if ws, ok, err := r.store.GetIndividualWorkspace(ctx, canonical); err != nil {
		return nil, err
	} else if ok {
		best[ws.ID] = domain.RoleAdmin
	}

	memberships, err := r.store.ListMemberships(ctx, canonical)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		upsertBest(best, m.ScopeID, m.Role)
	}

	groupMemberships, err := r.store.ListGroupMemberships(ctx, canonical)
	if err != nil {
		return nil, err
	}
	allWorkspaces, err := r.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, gm := range groupMemberships {
		role := domain.RoleReader
		if gm.Role == domain.RoleAdmin {
			role = domain.RoleAdmin
		}
		for _, ws := range allWorkspaces {
			if belongs, err := r.groupHasWorkspace(ctx, gm.ScopeID, ws.ID); err == nil && belongs {
				upsertBest(best, ws.ID, role)
			}
		}
	}

	if pub, ok, err := r.store.GetPublicWorkspace(ctx); err != nil {
		return nil, err
	} else if ok {
		upsertBest(best, pub.ID, domain.RoleReader)
	}

	grants, err := r.store.ListACLGrants(ctx, canonical)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if g.ExpiresAt != nil && !g.ExpiresAt.After(time.Now()) {
			continue
		}
		role := domain.RoleReader
		if g.Permission == domain.ActionWrite {
			role = domain.RoleEditor
		} else if g.Permission == domain.ActionAdmin {
			role = domain.RoleAdmin
		}
		upsertBest(best, g.WorkspaceID, role)
	}

	out := make([]domain.Member, 0, len(best))
	for wsID, role := range best {
		out = append(out, domain.Member{ScopeID: wsID, UserID: canonical, Role: role})
	}
	return out, nil
}

func upsertBest(m map[string]domain.Role, id string, role domain.Role) {
	if existing, ok := m[id]; !ok || role.Rank() > existing.Rank() {
		m[id] = role
	}
}
