package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrAssigneeNotActiveMember is returned when the assignee is not an
	// active member of the organization
	ErrAssigneeNotActiveMember = errors.New("assignee must be an active member of the organization")

	// ErrProjectWrongOrg is returned when the task's project belongs to a
	// different organization
	ErrProjectWrongOrg = errors.New("project does not belong to this organization")

	// ErrInvalidStatus is returned for an unknown workflow state
	ErrInvalidStatus = errors.New("invalid task status")
)

const taskColumns = `id, org_id, project_id, title, status, assigned_to_user_id,
	created_by_user_id, created_at, updated_at`

// Service provides task-related operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new task service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func scanTask(row pgx.Row) (*Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.OrgID,
		&task.ProjectID,
		&task.Title,
		&task.Status,
		&task.AssignedToUserID,
		&task.CreatedByUserID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &task, nil
}

// GetByID retrieves a task by ID
func (s *Service) GetByID(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	return scanTask(row)
}

// Create creates a task in the actor's current organization. The actor must
// hold ADMIN or LEAD there. The assignee, when set, must be an active member
// of that organization; the project, when set, must belong to it.
func (s *Service) Create(ctx context.Context, actorUserID uuid.UUID, title string, projectID, assigneeID *uuid.UUID) (*Task, error) {
	orgSvc := orgs.NewService(s.pool)
	orgID, actorRole, err := orgSvc.CurrentMembership(ctx, actorUserID)
	if err != nil {
		return nil, err
	}
	if !actorRole.CanAssignTasks() {
		return nil, orgs.ErrInsufficientPermissions
	}

	if assigneeID != nil {
		if err := s.requireActiveMember(ctx, orgID, *assigneeID); err != nil {
			return nil, err
		}
	}

	if projectID != nil {
		var projectOrg uuid.UUID
		err := s.pool.QueryRow(ctx, `
			SELECT org_id FROM projects WHERE id = $1
		`, *projectID).Scan(&projectOrg)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrProjectWrongOrg
			}
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
		if projectOrg != orgID {
			return nil, ErrProjectWrongOrg
		}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (org_id, project_id, title, assigned_to_user_id, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+taskColumns+`
	`, orgID, projectID, title, assigneeID, actorUserID)

	task, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return task, nil
}

// ListByOrg retrieves tasks in the organization, optionally filtered by
// assignee or project.
func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID, assigneeID, projectID *uuid.UUID) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE org_id = $1`
	args := []any{orgID}

	if assigneeID != nil {
		args = append(args, *assigneeID)
		query += fmt.Sprintf(" AND assigned_to_user_id = $%d", len(args))
	}
	if projectID != nil {
		args = append(args, *projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return out, nil
}

// Reassign moves a task to a new assignee, or unassigns it when assigneeID is
// nil. The actor must hold ADMIN or LEAD in their current organization, the
// task must be in that organization and the new assignee an active member of
// it.
func (s *Service) Reassign(ctx context.Context, actorUserID, taskID uuid.UUID, assigneeID *uuid.UUID) (*Task, error) {
	orgSvc := orgs.NewService(s.pool)
	orgID, actorRole, err := orgSvc.CurrentMembership(ctx, actorUserID)
	if err != nil {
		return nil, err
	}
	if !actorRole.CanAssignTasks() {
		return nil, orgs.ErrInsufficientPermissions
	}

	if assigneeID != nil {
		if err := s.requireActiveMember(ctx, orgID, *assigneeID); err != nil {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET assigned_to_user_id = $3, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING `+taskColumns+`
	`, taskID, orgID, assigneeID)

	return scanTask(row)
}

// UpdateStatus moves a task through its workflow
func (s *Service) UpdateStatus(ctx context.Context, actorUserID, taskID uuid.UUID, status TaskStatus) (*Task, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	orgID, _, err := orgs.NewService(s.pool).CurrentMembership(ctx, actorUserID)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING `+taskColumns+`
	`, taskID, orgID, status)

	return scanTask(row)
}

// CountAssignedTo counts tasks currently assigned to a user in an organization
func (s *Service) CountAssignedTo(ctx context.Context, orgID, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE org_id = $1 AND assigned_to_user_id = $2
	`, orgID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	return count, nil
}

func (s *Service) requireActiveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	var rawStatus *string
	err := s.pool.QueryRow(ctx, `
		SELECT status FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&rawStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAssigneeNotActiveMember
		}
		return fmt.Errorf("failed to check assignee membership: %w", err)
	}
	if orgs.NormalizeStatus(rawStatus) != orgs.StatusActive {
		return ErrAssigneeNotActiveMember
	}
	return nil
}
