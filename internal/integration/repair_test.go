package integration

import (
	"context"
	"testing"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/maintenance"
	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, pool *pgxpool.Pool, email, name string) uuid.UUID {
	t.Helper()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	var id uuid.UUID
	err = pool.QueryRow(context.Background(), `
		INSERT INTO users (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id
	`, email, name, hash).Scan(&id)
	require.NoError(t, err)

	return id
}

func TestRepairMembershipDrift(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	ownerID := seedUser(t, pool, "owner@example.com", "Owner")
	memberID := seedUser(t, pool, "member@example.com", "Member")

	orgSvc := orgs.NewService(pool)
	org, err := orgSvc.CreateWithAdmin(ctx, "Acme", ownerID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		VALUES ($1, $2, 'MEMBER', 'active')
	`, org.ID, memberID)
	require.NoError(t, err)

	// Introduce legacy-style drift: the owner's roster entry vanishes, the
	// member's caches point at an organization they never joined, and the
	// cached role disagrees with the roster.
	_, err = pool.Exec(ctx, `DELETE FROM org_memberships WHERE org_id = $1 AND user_id = $2`, org.ID, ownerID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE users SET current_org_id = $2, org_id = NULL, role = 'ADMIN' WHERE id = $1`, memberID, uuid.New())
	require.NoError(t, err)

	report, err := maintenance.RepairMembershipDrift(ctx, pool, nil)
	require.NoError(t, err)
	require.True(t, report.Changed())
	require.EqualValues(t, 1, report.OwnerMembershipsRestored)
	require.EqualValues(t, 1, report.StaleCurrentOrgsCleared)

	// The owner is an active ADMIN again and the member is back on their
	// real organization with the roster role.
	orgID, role, err := orgSvc.CurrentMembership(ctx, ownerID)
	require.NoError(t, err)
	require.Equal(t, org.ID, orgID)
	require.Equal(t, orgs.RoleAdmin, role)

	orgID, role, err = orgSvc.CurrentMembership(ctx, memberID)
	require.NoError(t, err)
	require.Equal(t, org.ID, orgID)
	require.Equal(t, orgs.RoleMember, role)

	var cachedRole string
	var legacyOrgID *uuid.UUID
	err = pool.QueryRow(ctx, `SELECT role, org_id FROM users WHERE id = $1`, memberID).Scan(&cachedRole, &legacyOrgID)
	require.NoError(t, err)
	require.Equal(t, "MEMBER", cachedRole)
	require.NotNil(t, legacyOrgID)
	require.Equal(t, org.ID, *legacyOrgID)

	// A second run finds nothing to fix.
	report, err = maintenance.RepairMembershipDrift(ctx, pool, nil)
	require.NoError(t, err)
	require.False(t, report.Changed())
}

func TestRepair_NormalizesLegacyNullStatus(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	ownerID := seedUser(t, pool, "owner@example.com", "Owner")
	legacyID := seedUser(t, pool, "legacy@example.com", "Legacy")

	orgSvc := orgs.NewService(pool)
	org, err := orgSvc.CreateWithAdmin(ctx, "Acme", ownerID)
	require.NoError(t, err)

	// A pre-migration roster row with no status column value.
	_, err = pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		VALUES ($1, $2, 'MEMBER', NULL)
	`, org.ID, legacyID)
	require.NoError(t, err)

	// A NULL status reads as active everywhere.
	_, err = orgSvc.SwitchOrganization(ctx, legacyID, org.ID)
	require.NoError(t, err)

	members, err := orgSvc.ListMembers(ctx, org.ID, legacyID)
	require.NoError(t, err)
	for _, m := range members {
		require.Equal(t, orgs.StatusActive, m.Status)
	}

	// Repair treats it as active too and leaves it alone.
	report, err := maintenance.RepairMembershipDrift(ctx, pool, nil)
	require.NoError(t, err)
	require.False(t, report.Changed())
}

func TestUpdateMemberRole_LastAdminGuardWithoutOwnerRow(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	ownerID := seedUser(t, pool, "owner@example.com", "Owner")
	adminID := seedUser(t, pool, "admin@example.com", "Admin")

	orgSvc := orgs.NewService(pool)
	org, err := orgSvc.CreateWithAdmin(ctx, "Acme", ownerID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		VALUES ($1, $2, 'ADMIN', 'active')
	`, org.ID, adminID)
	require.NoError(t, err)
	_, err = orgSvc.SwitchOrganization(ctx, adminID, org.ID)
	require.NoError(t, err)

	// Simulate drifted data where the owner's roster entry is gone: the
	// remaining admin must not be able to demote themselves to zero admins.
	_, err = pool.Exec(ctx, `DELETE FROM org_memberships WHERE org_id = $1 AND user_id = $2`, org.ID, ownerID)
	require.NoError(t, err)

	_, err = orgSvc.UpdateMemberRole(ctx, adminID, adminID, orgs.RoleMember)
	require.ErrorIs(t, err, orgs.ErrLastAdmin)
}

func TestSwitchOrganization_PendingMembershipRejected(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	ownerID := seedUser(t, pool, "owner@example.com", "Owner")
	userID := seedUser(t, pool, "pending@example.com", "Pending")

	orgSvc := orgs.NewService(pool)
	org, err := orgSvc.CreateWithAdmin(ctx, "Acme", ownerID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		VALUES ($1, $2, 'MEMBER', 'pending')
	`, org.ID, userID)
	require.NoError(t, err)

	_, err = orgSvc.SwitchOrganization(ctx, userID, org.ID)
	require.ErrorIs(t, err, orgs.ErrNotActiveInTargetOrg)
}
