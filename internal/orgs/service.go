package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrNotMember is returned when a user is not an active member of an organization
	ErrNotMember = errors.New("user is not a member of this organization")

	// ErrNoCurrentOrganization is returned when an operation needs a current
	// organization and the user has none
	ErrNoCurrentOrganization = errors.New("user has no current organization")

	// ErrInsufficientPermissions is returned when a user lacks required permissions
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so membership lookups
// can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service provides organization-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new organization service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// GetByID retrieves an organization by ID
func (s *Service) GetByID(ctx context.Context, orgID uuid.UUID) (*Org, error) {
	return getOrg(ctx, s.pool, `WHERE id = $1`, orgID)
}

// GetByInviteCode retrieves an organization by its invite code.
// The code must already be uppercase-normalized by the caller.
func (s *Service) GetByInviteCode(ctx context.Context, code string) (*Org, error) {
	return getOrg(ctx, s.pool, `WHERE invite_code = $1`, code)
}

func getOrg(ctx context.Context, q querier, where string, arg any) (*Org, error) {
	var org Org

	query := `
		SELECT id, name, owner_user_id, invite_code, created_at, updated_at
		FROM orgs
	` + where

	err := q.QueryRow(ctx, query, arg).Scan(
		&org.ID,
		&org.Name,
		&org.OwnerUserID,
		&org.InviteCode,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// CreateWithAdmin creates a new organization with a generated invite code and
// makes the creator its owner with an active ADMIN roster entry. The creator's
// current organization switches to the new one.
func (s *Service) CreateWithAdmin(ctx context.Context, name string, ownerID uuid.UUID) (*Org, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var org Org
	for attempt := 0; attempt < 3; attempt++ {
		code, err := GenerateInviteCode()
		if err != nil {
			return nil, err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO orgs (name, owner_user_id, invite_code)
			VALUES ($1, $2, $3)
			RETURNING id, name, owner_user_id, invite_code, created_at, updated_at
		`, name, ownerID, code).Scan(
			&org.ID,
			&org.Name,
			&org.OwnerUserID,
			&org.InviteCode,
			&org.CreatedAt,
			&org.UpdatedAt,
		)
		if err == nil {
			break
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Invite code collision; retry with a fresh code.
			if attempt == 2 {
				return nil, fmt.Errorf("failed to create organization: invite code collision retry exhausted")
			}
			continue
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO org_memberships (org_id, user_id, role, status)
		VALUES ($1, $2, $3, $4)
	`, org.ID, ownerID, RoleAdmin, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	// Single write path for the denormalized user cache.
	_, err = tx.Exec(ctx, `
		UPDATE users
		SET current_org_id = $2, org_id = $2, role = $3, updated_at = NOW()
		WHERE id = $1
	`, ownerID, org.ID, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to update user organization cache: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &org, nil
}

// ListUserOrgs retrieves all organizations the user is an active member of,
// with their role in each and a marker for the current one.
func (s *Service) ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]OrgWithRole, error) {
	query := `
		SELECT o.id, o.name, o.owner_user_id, o.invite_code, o.created_at, o.updated_at,
		       m.role, (u.current_org_id = o.id) AS is_current
		FROM orgs o
		INNER JOIN org_memberships m ON o.id = m.org_id
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.user_id = $1
		  AND COALESCE(m.status, 'active') = 'active'
		ORDER BY m.joined_at ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orgs: %w", err)
	}
	defer rows.Close()

	var out []OrgWithRole
	for rows.Next() {
		var org OrgWithRole
		var isCurrent *bool
		err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.OwnerUserID,
			&org.InviteCode,
			&org.CreatedAt,
			&org.UpdatedAt,
			&org.Role,
			&isCurrent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		org.IsCurrent = isCurrent != nil && *isCurrent
		out = append(out, org)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating org rows: %w", err)
	}

	return out, nil
}

// ListMembers retrieves the roster of an organization. The caller must be an
// active member of it.
func (s *Service) ListMembers(ctx context.Context, orgID, actorUserID uuid.UUID) ([]MemberInfo, error) {
	if _, err := s.activeRole(ctx, s.pool, actorUserID, orgID); err != nil {
		return nil, err
	}

	query := `
		SELECT m.user_id, u.email, u.name, m.role, m.status, m.joined_at
		FROM org_memberships m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.org_id = $1
		ORDER BY m.joined_at ASC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []MemberInfo
	for rows.Next() {
		var member MemberInfo
		var rawStatus *string
		err := rows.Scan(
			&member.UserID,
			&member.Email,
			&member.Name,
			&member.Role,
			&rawStatus,
			&member.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Status = NormalizeStatus(rawStatus)
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

// CurrentMembership resolves the caller's current organization and their live
// role in it from the authoritative roster, ignoring the cached role field and
// any token claims.
func (s *Service) CurrentMembership(ctx context.Context, userID uuid.UUID) (uuid.UUID, OrgRole, error) {
	return currentMembership(ctx, s.pool, userID)
}

func currentMembership(ctx context.Context, q querier, userID uuid.UUID) (uuid.UUID, OrgRole, error) {
	var currentOrgID *uuid.UUID
	if err := q.QueryRow(ctx, `
		SELECT current_org_id FROM users WHERE id = $1
	`, userID).Scan(&currentOrgID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, "", ErrNotMember
		}
		return uuid.Nil, "", fmt.Errorf("failed to load user: %w", err)
	}

	if currentOrgID == nil {
		return uuid.Nil, "", ErrNoCurrentOrganization
	}

	role, err := activeRoleQ(ctx, q, userID, *currentOrgID)
	if err != nil {
		return uuid.Nil, "", err
	}

	return *currentOrgID, role, nil
}

// activeRole returns the user's role in the organization, requiring an active
// (status-normalized) roster entry.
func (s *Service) activeRole(ctx context.Context, q querier, userID, orgID uuid.UUID) (OrgRole, error) {
	return activeRoleQ(ctx, q, userID, orgID)
}

func activeRoleQ(ctx context.Context, q querier, userID, orgID uuid.UUID) (OrgRole, error) {
	var role OrgRole
	var rawStatus *string

	err := q.QueryRow(ctx, `
		SELECT role, status FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role, &rawStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug().
				Str("user_id", userID.String()).
				Str("org_id", orgID.String()).
				Msg("RBAC: user is not a member of organization")
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to check org membership: %w", err)
	}

	if NormalizeStatus(rawStatus) != StatusActive {
		return "", ErrNotMember
	}

	return role, nil
}

// RequireCurrentAdmin resolves the caller's current organization and confirms
// their live role there is ADMIN.
func (s *Service) RequireCurrentAdmin(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	orgID, role, err := s.CurrentMembership(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if role != RoleAdmin {
		log.Warn().
			Str("user_id", userID.String()).
			Str("org_id", orgID.String()).
			Str("user_role", string(role)).
			Msg("RBAC: admin role required")
		return uuid.Nil, ErrInsufficientPermissions
	}
	return orgID, nil
}

// RequireRequestManager resolves the caller's current organization and
// confirms their live role there may manage join requests (ADMIN or LEAD).
func (s *Service) RequireRequestManager(ctx context.Context, userID uuid.UUID) (uuid.UUID, OrgRole, error) {
	orgID, role, err := s.CurrentMembership(ctx, userID)
	if err != nil {
		return uuid.Nil, "", err
	}
	if !role.CanManageRequests() {
		log.Warn().
			Str("user_id", userID.String()).
			Str("org_id", orgID.String()).
			Str("user_role", string(role)).
			Msg("RBAC: admin or lead role required")
		return uuid.Nil, "", ErrInsufficientPermissions
	}
	return orgID, role, nil
}

// lockActiveAdminCount counts active ADMIN roster entries in the organization,
// locking the rows so a concurrent demotion cannot race past the check.
func lockActiveAdminCount(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id
		FROM org_memberships
		WHERE org_id = $1
		  AND role = $2
		  AND COALESCE(status, 'active') = 'active'
		FOR UPDATE
	`, orgID, RoleAdmin)
	if err != nil {
		return 0, fmt.Errorf("failed to lock admin rows: %w", err)
	}
	defer rows.Close()

	var admins int
	for rows.Next() {
		admins++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to lock admin rows: %w", err)
	}

	return admins, nil
}
