package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when a user does not exist
var ErrUserNotFound = errors.New("user not found")

// Service provides user account operations
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new user service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// GetByID retrieves a user by ID
func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	var user User

	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, role, current_org_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.CurrentOrgID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetProfile assembles the /me view. The organization list and current role
// are derived from the membership roster rather than the cached user fields,
// so a stale cache never surfaces here.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name, m.role, m.joined_at
		FROM org_memberships m
		INNER JOIN orgs o ON o.id = m.org_id
		WHERE m.user_id = $1
		  AND COALESCE(m.status, 'active') = 'active'
		ORDER BY m.joined_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	profile := &Profile{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		CurrentOrgID: user.CurrentOrgID,
		CreatedAt:    user.CreatedAt,
	}

	for rows.Next() {
		var aff Affiliation
		if err := rows.Scan(&aff.OrgID, &aff.OrgName, &aff.Role, &aff.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if user.CurrentOrgID != nil && *user.CurrentOrgID == aff.OrgID {
			aff.IsCurrent = true
			role := aff.Role
			profile.CurrentRole = &role
		}
		profile.Organizations = append(profile.Organizations, aff)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}

	return profile, nil
}

// PendingRequest surfaces the user's latest join request alongside the
// profile, so a user waiting on approval can see where they stand. Returns
// nil when the user never submitted one.
func (s *Service) PendingRequest(ctx context.Context, userID uuid.UUID) (*orgs.MemberRequest, error) {
	req, err := orgs.NewService(s.pool).LatestRequest(ctx, userID)
	if err != nil {
		if errors.Is(err, orgs.ErrRequestNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}
