package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpdateMemberRole applies a role transition to a member of the acting admin's
// current organization.
//
// The actor's role is resolved live from the roster, never from the cached
// role field or token claims. Demotions are guarded: a LEAD who still leads
// projects cannot become MEMBER, the last active ADMIN cannot step down, and
// the organization owner's role is immutable. Promotions are unguarded.
func (s *Service) UpdateMemberRole(ctx context.Context, actorUserID, targetUserID uuid.UUID, newRole OrgRole) (*RoleChange, error) {
	if !newRole.IsValid() {
		return nil, fmt.Errorf("invalid role %q", newRole)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	orgID, actorRole, err := currentMembership(ctx, tx, actorUserID)
	if err != nil {
		return nil, err
	}
	if actorRole != RoleAdmin {
		return nil, ErrInsufficientPermissions
	}

	var previousRole OrgRole
	var rawStatus *string
	if err := tx.QueryRow(ctx, `
		SELECT role, status
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
		FOR UPDATE
	`, orgID, targetUserID).Scan(&previousRole, &rawStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to load member role: %w", err)
	}
	if NormalizeStatus(rawStatus) != StatusActive {
		return nil, ErrMemberNotFound
	}

	var ownerUserID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT owner_user_id FROM orgs WHERE id = $1
	`, orgID).Scan(&ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}
	if targetUserID == ownerUserID && newRole != RoleAdmin {
		return nil, ErrCannotChangeOwnerRole
	}

	if previousRole == RoleLead && newRole == RoleMember {
		var ledProjects int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM projects
			WHERE org_id = $1 AND lead_id = $2
		`, orgID, targetUserID).Scan(&ledProjects); err != nil {
			return nil, fmt.Errorf("failed to count led projects: %w", err)
		}
		if ledProjects > 0 {
			return nil, &LeadsProjectsError{Count: ledProjects}
		}
	}

	if previousRole == RoleAdmin && newRole != RoleAdmin {
		admins, err := lockActiveAdminCount(ctx, tx, orgID)
		if err != nil {
			return nil, err
		}
		if admins <= 1 {
			return nil, ErrLastAdmin
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE org_memberships
		SET role = $3
		WHERE org_id = $1 AND user_id = $2
	`, orgID, targetUserID, newRole); err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}

	// Refresh the denormalized cache if the target is operating under this org.
	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET role = $3, updated_at = NOW()
		WHERE id = $2 AND current_org_id = $1
	`, orgID, targetUserID, newRole); err != nil {
		return nil, fmt.Errorf("failed to update user role cache: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &RoleChange{PreviousRole: previousRole, NewRole: newRole}, nil
}

// RemoveMember removes a member from the acting admin's current organization.
//
// Removal is refused while the target still owns live work: assigned tasks,
// led projects, or project memberships each block it with the offending count
// so the caller knows exactly what to fix first.
func (s *Service) RemoveMember(ctx context.Context, actorUserID, targetUserID uuid.UUID) (OrgRole, error) {
	if actorUserID == targetUserID {
		return "", ErrCannotRemoveSelf
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	orgID, actorRole, err := currentMembership(ctx, tx, actorUserID)
	if err != nil {
		return "", err
	}
	if actorRole != RoleAdmin {
		return "", ErrInsufficientPermissions
	}

	var targetRole OrgRole
	var rawStatus *string
	if err := tx.QueryRow(ctx, `
		SELECT role, status
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
		FOR UPDATE
	`, orgID, targetUserID).Scan(&targetRole, &rawStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMemberNotFound
		}
		return "", fmt.Errorf("failed to load member: %w", err)
	}
	if NormalizeStatus(rawStatus) != StatusActive {
		return "", ErrMemberNotFound
	}

	var ownerUserID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT owner_user_id FROM orgs WHERE id = $1
	`, orgID).Scan(&ownerUserID); err != nil {
		return "", fmt.Errorf("failed to load organization: %w", err)
	}
	if targetUserID == ownerUserID {
		return "", ErrCannotRemoveOwner
	}

	var assignedTasks int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE org_id = $1 AND assigned_to_user_id = $2
	`, orgID, targetUserID).Scan(&assignedTasks); err != nil {
		return "", fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	if assignedTasks > 0 {
		return "", &RemovalBlockedError{Reason: BlockedByAssignedTasks, Count: assignedTasks}
	}

	var ledProjects int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM projects
		WHERE org_id = $1 AND lead_id = $2
	`, orgID, targetUserID).Scan(&ledProjects); err != nil {
		return "", fmt.Errorf("failed to count led projects: %w", err)
	}
	if ledProjects > 0 {
		return "", &RemovalBlockedError{Reason: BlockedByLedProjects, Count: ledProjects}
	}

	var projectMemberships int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM project_members pm
		INNER JOIN projects p ON p.id = pm.project_id
		WHERE p.org_id = $1
		  AND pm.user_id = $2
		  AND p.lead_id <> $2
	`, orgID, targetUserID).Scan(&projectMemberships); err != nil {
		return "", fmt.Errorf("failed to count project memberships: %w", err)
	}
	if projectMemberships > 0 {
		return "", &RemovalBlockedError{Reason: BlockedByProjectMemberships, Count: projectMemberships}
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, targetUserID)
	if err != nil {
		return "", fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrMemberNotFound
	}

	if err := repointCurrentOrg(ctx, tx, targetUserID, orgID); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return targetRole, nil
}

// Leave removes the caller from their current organization. The owner cannot
// leave; ownership transfer is a separate concern.
func (s *Service) Leave(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	orgID, _, err := currentMembership(ctx, tx, userID)
	if err != nil {
		return uuid.Nil, err
	}

	var ownerUserID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT owner_user_id FROM orgs WHERE id = $1
	`, orgID).Scan(&ownerUserID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to load organization: %w", err)
	}
	if userID == ownerUserID {
		return uuid.Nil, ErrOwnerCannotLeave
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to leave organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, ErrNotMember
	}

	if err := repointCurrentOrg(ctx, tx, userID, orgID); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return orgID, nil
}

// SwitchOrganization changes which of the user's memberships is active.
//
// A roster entry must exist for the target organization and be active; a
// stale or pending entry fails. This is a pure pointer swap: no roster row is
// touched.
func (s *Service) SwitchOrganization(ctx context.Context, userID, orgID uuid.UUID) (OrgRole, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var role OrgRole
	var rawStatus *string
	if err := tx.QueryRow(ctx, `
		SELECT role, status
		FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role, &rawStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotActiveInTargetOrg
		}
		return "", fmt.Errorf("failed to load membership: %w", err)
	}
	if NormalizeStatus(rawStatus) != StatusActive {
		return "", ErrNotActiveInTargetOrg
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET current_org_id = $2, org_id = $2, role = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, orgID, role); err != nil {
		return "", fmt.Errorf("failed to switch organization: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return role, nil
}

// repointCurrentOrg updates a user's current-organization cache after their
// membership in leftOrgID went away: the first remaining active membership
// (by join date) becomes current, or the pointers clear to the no-organization
// state with the default MEMBER role.
func repointCurrentOrg(ctx context.Context, tx pgx.Tx, userID, leftOrgID uuid.UUID) error {
	var currentOrgID *uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT current_org_id FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&currentOrgID); err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	if currentOrgID == nil || *currentOrgID != leftOrgID {
		// The user was operating under a different organization; only the
		// legacy mirror could be stale, and it tracks current_org_id.
		return nil
	}

	var nextOrgID *uuid.UUID
	var nextRole OrgRole
	err := tx.QueryRow(ctx, `
		SELECT org_id, role
		FROM org_memberships
		WHERE user_id = $1
		  AND COALESCE(status, 'active') = 'active'
		ORDER BY joined_at ASC
		LIMIT 1
	`, userID).Scan(&nextOrgID, &nextRole)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to find remaining membership: %w", err)
	}

	if nextOrgID == nil {
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET current_org_id = NULL, org_id = NULL, role = $2, updated_at = NOW()
			WHERE id = $1
		`, userID, RoleMember)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET current_org_id = $2, org_id = $2, role = $3, updated_at = NOW()
			WHERE id = $1
		`, userID, *nextOrgID, nextRole)
	}
	if err != nil {
		return fmt.Errorf("failed to update user organization cache: %w", err)
	}

	return nil
}
