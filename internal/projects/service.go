package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrProjectNotFound is returned when a project is not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrLeadNotActiveMember is returned when the chosen lead is not an active
	// member of the organization
	ErrLeadNotActiveMember = errors.New("lead must be an active member of the organization")

	// ErrAlreadyProjectMember is returned when a user is already on the project roster
	ErrAlreadyProjectMember = errors.New("user is already a project member")

	// ErrMemberNotActiveInOrg is returned when adding a project member who is
	// not an active member of the organization
	ErrMemberNotActiveInOrg = errors.New("user is not an active member of the organization")
)

// Service provides project-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new project service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// GetByID retrieves a project by ID
func (s *Service) GetByID(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	var project Project

	query := `
		SELECT id, org_id, name, lead_id, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	err := s.pool.QueryRow(ctx, query, projectID).Scan(
		&project.ID,
		&project.OrgID,
		&project.Name,
		&project.LeadID,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// ListByOrg retrieves all projects for an organization
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Project, error) {
	query := `
		SELECT id, org_id, name, lead_id, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var project Project
		err := rows.Scan(
			&project.ID,
			&project.OrgID,
			&project.Name,
			&project.LeadID,
			&project.CreatedByUserID,
			&project.CreatedAt,
			&project.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return out, nil
}

// ListMembers retrieves the project roster
func (s *Service) ListMembers(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	query := `
		SELECT pm.user_id, u.email, u.name, pm.added_at
		FROM project_members pm
		INNER JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.added_at ASC
	`

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Email, &m.Name, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project member rows: %w", err)
	}

	return members, nil
}

// Create creates a new project in the actor's current organization. The actor
// must be an admin there. The lead must be an active member of the
// organization; they are placed on the project roster and, if they are a
// plain member, promoted to LEAD as part of the same transaction.
func (s *Service) Create(ctx context.Context, actorUserID uuid.UUID, name string, leadID uuid.UUID) (*Project, error) {
	orgSvc := orgs.NewService(s.pool)
	orgID, err := orgSvc.RequireCurrentAdmin(ctx, actorUserID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	leadRole, err := lockActiveRole(ctx, tx, orgID, leadID)
	if err != nil {
		return nil, err
	}

	var project Project
	err = tx.QueryRow(ctx, `
		INSERT INTO projects (org_id, name, lead_id, created_by_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, org_id, name, lead_id, created_by_user_id, created_at, updated_at
	`, orgID, name, leadID, actorUserID).Scan(
		&project.ID,
		&project.OrgID,
		&project.Name,
		&project.LeadID,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	if err := ensureProjectMember(ctx, tx, project.ID, leadID); err != nil {
		return nil, err
	}

	if leadRole == orgs.RoleMember {
		if err := setOrgRole(ctx, tx, orgID, leadID, orgs.RoleLead); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &project, nil
}

// AddMember adds a user to the project roster. The actor must be an admin of
// the organization or the project lead, and the user must be an active member
// of the organization.
func (s *Service) AddMember(ctx context.Context, actorUserID, projectID, userID uuid.UUID) error {
	project, err := s.GetByID(ctx, projectID)
	if err != nil {
		return err
	}

	orgSvc := orgs.NewService(s.pool)
	actorOrgID, actorRole, err := orgSvc.CurrentMembership(ctx, actorUserID)
	if err != nil {
		return err
	}
	if actorOrgID != project.OrgID {
		return ErrProjectNotFound
	}
	if actorRole != orgs.RoleAdmin && project.LeadID != actorUserID {
		return orgs.ErrInsufficientPermissions
	}

	if _, err := activeRolePool(ctx, s.pool, project.OrgID, userID); err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
	`, projectID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyProjectMember
		}
		return fmt.Errorf("failed to add project member: %w", err)
	}

	return nil
}

// UpdateLead reassigns the project lead and cascades the consequences in a
// single transaction: the new lead joins the project roster and is promoted
// from MEMBER to LEAD if needed, the old lead's open tasks on this project
// move to the new lead, and the old lead is demoted back to MEMBER when they
// no longer lead any project in the organization.
func (s *Service) UpdateLead(ctx context.Context, actorUserID, projectID, newLeadID uuid.UUID) (*LeadChange, error) {
	orgSvc := orgs.NewService(s.pool)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var project Project
	err = tx.QueryRow(ctx, `
		SELECT id, org_id, name, lead_id, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
		FOR UPDATE
	`, projectID).Scan(
		&project.ID,
		&project.OrgID,
		&project.Name,
		&project.LeadID,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	actorOrgID, actorRole, err := orgSvc.CurrentMembership(ctx, actorUserID)
	if err != nil {
		return nil, err
	}
	if actorOrgID != project.OrgID {
		return nil, ErrProjectNotFound
	}
	if actorRole != orgs.RoleAdmin {
		return nil, orgs.ErrInsufficientPermissions
	}

	newLeadRole, err := lockActiveRole(ctx, tx, project.OrgID, newLeadID)
	if err != nil {
		return nil, err
	}
	oldLeadID := project.LeadID

	change := &LeadChange{
		ProjectID:      project.ID,
		PreviousLeadID: oldLeadID,
		NewLeadID:      newLeadID,
	}

	if newLeadID != oldLeadID {
		// Hand over all of the old lead's tasks on this project, finished
		// ones included, so removal blockers see the same owner the roster
		// does.
		tag, err := tx.Exec(ctx, `
			UPDATE tasks
			SET assigned_to_user_id = $3, updated_at = NOW()
			WHERE project_id = $1
			  AND assigned_to_user_id = $2
		`, project.ID, oldLeadID, newLeadID)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign tasks: %w", err)
		}
		change.TasksReassigned = int(tag.RowsAffected())

		_, err = tx.Exec(ctx, `
			UPDATE projects SET lead_id = $2, updated_at = NOW() WHERE id = $1
		`, project.ID, newLeadID)
		if err != nil {
			return nil, fmt.Errorf("failed to update project lead: %w", err)
		}
	}

	// Membership and promotion run even when the lead did not move, so a
	// lead whose role cache drifted gets straightened out by a re-assert.
	if err := ensureProjectMember(ctx, tx, project.ID, newLeadID); err != nil {
		return nil, err
	}

	if newLeadRole == orgs.RoleMember {
		if err := setOrgRole(ctx, tx, project.OrgID, newLeadID, orgs.RoleLead); err != nil {
			return nil, err
		}
		change.NewLeadPromoted = true
	}

	if newLeadID != oldLeadID {
		// Demote the old lead only when this was their last project and role
		// stepped down cleanly from LEAD. Admins and removed members are
		// left as-is.
		oldLeadRole, err := lockActiveRole(ctx, tx, project.OrgID, oldLeadID)
		if err == nil && oldLeadRole == orgs.RoleLead {
			var remaining int
			err = tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM projects WHERE org_id = $1 AND lead_id = $2
			`, project.OrgID, oldLeadID).Scan(&remaining)
			if err != nil {
				return nil, fmt.Errorf("failed to count led projects: %w", err)
			}
			if remaining == 0 {
				if err := setOrgRole(ctx, tx, project.OrgID, oldLeadID, orgs.RoleMember); err != nil {
					return nil, err
				}
				change.OldLeadDemoted = true
			}
		} else if err != nil && !errors.Is(err, ErrLeadNotActiveMember) {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return change, nil
}

// lockActiveRole loads and locks a membership row, requiring active status.
func lockActiveRole(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID) (orgs.OrgRole, error) {
	var role orgs.OrgRole
	var rawStatus *string

	err := tx.QueryRow(ctx, `
		SELECT role, status FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
		FOR UPDATE
	`, orgID, userID).Scan(&role, &rawStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLeadNotActiveMember
		}
		return "", fmt.Errorf("failed to load membership: %w", err)
	}

	if orgs.NormalizeStatus(rawStatus) != orgs.StatusActive {
		return "", ErrLeadNotActiveMember
	}

	return role, nil
}

func activeRolePool(ctx context.Context, pool *pgxpool.Pool, orgID, userID uuid.UUID) (orgs.OrgRole, error) {
	var role orgs.OrgRole
	var rawStatus *string

	err := pool.QueryRow(ctx, `
		SELECT role, status FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role, &rawStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMemberNotActiveInOrg
		}
		return "", fmt.Errorf("failed to load membership: %w", err)
	}

	if orgs.NormalizeStatus(rawStatus) != orgs.StatusActive {
		return "", ErrMemberNotActiveInOrg
	}

	return role, nil
}

func ensureProjectMember(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure project membership: %w", err)
	}
	return nil
}

// setOrgRole updates the roster role and, when the organization is the user's
// current one, the cached role on the user row in the same transaction.
func setOrgRole(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID, role orgs.OrgRole) error {
	_, err := tx.Exec(ctx, `
		UPDATE org_memberships
		SET role = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET role = $3, updated_at = NOW()
		WHERE id = $2 AND current_org_id = $1
	`, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update cached role: %w", err)
	}

	return nil
}
