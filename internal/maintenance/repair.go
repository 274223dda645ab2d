package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Report summarizes what a repair run changed. All counters are zero on a
// healthy database.
type Report struct {
	OwnerMembershipsRestored int64 `json:"owner_memberships_restored"`
	StaleCurrentOrgsCleared  int64 `json:"stale_current_orgs_cleared"`
	CachedRolesSynced        int64 `json:"cached_roles_synced"`
	OrglessRolesReset        int64 `json:"orgless_roles_reset"`
	LegacyOrgMirrorsSynced   int64 `json:"legacy_org_mirrors_synced"`
}

// Changed reports whether the run modified anything
func (r Report) Changed() bool {
	return r.OwnerMembershipsRestored+r.StaleCurrentOrgsCleared+
		r.CachedRolesSynced+r.OrglessRolesReset+r.LegacyOrgMirrorsSynced > 0
}

// restoreOwnerMemberships reinserts an active ADMIN roster entry for any
// organization owner whose membership row is missing or inactive. Owners are
// the anchor for the one-admin-per-org invariant, so this runs first.
func restoreOwnerMemberships(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		SELECT o.id, o.owner_user_id, 'ADMIN', 'active'
		FROM orgs o
		ON CONFLICT (org_id, user_id)
		DO UPDATE SET role = 'ADMIN', status = 'active', updated_at = NOW()
		WHERE org_memberships.role <> 'ADMIN'
		   OR COALESCE(org_memberships.status, 'active') <> 'active'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to restore owner memberships: %w", err)
	}
	return tag.RowsAffected(), nil
}

// clearStaleCurrentOrgs repoints users whose current_org_id no longer matches
// an active membership: first to their oldest remaining active membership,
// then to NULL when none remains.
func clearStaleCurrentOrgs(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE users u
		SET current_org_id = (
			SELECT m.org_id
			FROM org_memberships m
			WHERE m.user_id = u.id
			  AND COALESCE(m.status, 'active') = 'active'
			ORDER BY m.joined_at ASC
			LIMIT 1
		), updated_at = NOW()
		WHERE u.current_org_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM org_memberships m
			WHERE m.org_id = u.current_org_id
			  AND m.user_id = u.id
			  AND COALESCE(m.status, 'active') = 'active'
		  )
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale current orgs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// syncCachedRoles aligns the cached role on the user row with the
// authoritative roster entry for the current organization.
func syncCachedRoles(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE users u
		SET role = m.role, updated_at = NOW()
		FROM org_memberships m
		WHERE m.org_id = u.current_org_id
		  AND m.user_id = u.id
		  AND COALESCE(m.status, 'active') = 'active'
		  AND u.role <> m.role
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sync cached roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// resetOrglessRoles defaults users without a current organization back to
// the MEMBER cache value.
func resetOrglessRoles(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE users
		SET role = 'MEMBER', updated_at = NOW()
		WHERE current_org_id IS NULL
		  AND role <> 'MEMBER'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orgless roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// syncLegacyOrgMirrors keeps the legacy org_id column equal to current_org_id
// for older readers that still consult it.
func syncLegacyOrgMirrors(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE users
		SET org_id = current_org_id, updated_at = NOW()
		WHERE org_id IS DISTINCT FROM current_org_id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sync legacy org mirrors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RepairMembershipDrift reconciles the denormalized user columns with the
// membership roster. All steps are idempotent - safe to run repeatedly. This
// is the main entry point called by the cron scheduler and the admin CLI.
func RepairMembershipDrift(ctx context.Context, pool *pgxpool.Pool, auditor *audit.Writer) (*Report, error) {
	log.Info().Msg("Starting membership repair")
	startTime := time.Now()

	var report Report
	var err error

	if report.OwnerMembershipsRestored, err = restoreOwnerMemberships(ctx, pool); err != nil {
		log.Error().Err(err).Msg("Failed to restore owner memberships")
		return nil, err
	}

	if report.StaleCurrentOrgsCleared, err = clearStaleCurrentOrgs(ctx, pool); err != nil {
		log.Error().Err(err).Msg("Failed to clear stale current orgs")
		return nil, err
	}

	if report.CachedRolesSynced, err = syncCachedRoles(ctx, pool); err != nil {
		log.Error().Err(err).Msg("Failed to sync cached roles")
		return nil, err
	}

	if report.OrglessRolesReset, err = resetOrglessRoles(ctx, pool); err != nil {
		log.Error().Err(err).Msg("Failed to reset orgless roles")
		return nil, err
	}

	if report.LegacyOrgMirrorsSynced, err = syncLegacyOrgMirrors(ctx, pool); err != nil {
		log.Error().Err(err).Msg("Failed to sync legacy org mirrors")
		return nil, err
	}

	duration := time.Since(startTime)

	log.Info().
		Int64("owner_memberships_restored", report.OwnerMembershipsRestored).
		Int64("stale_current_orgs_cleared", report.StaleCurrentOrgsCleared).
		Int64("cached_roles_synced", report.CachedRolesSynced).
		Int64("orgless_roles_reset", report.OrglessRolesReset).
		Int64("legacy_org_mirrors_synced", report.LegacyOrgMirrorsSynced).
		Dur("duration", duration).
		Msg("Membership repair completed")

	if auditor != nil && report.Changed() {
		if err := auditor.LogMaintenanceRepair(ctx, map[string]any{
			"owner_memberships_restored": report.OwnerMembershipsRestored,
			"stale_current_orgs_cleared": report.StaleCurrentOrgsCleared,
			"cached_roles_synced":        report.CachedRolesSynced,
			"orgless_roles_reset":        report.OrglessRolesReset,
			"legacy_org_mirrors_synced":  report.LegacyOrgMirrorsSynced,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to log repair audit event")
		}
	}

	return &report, nil
}
