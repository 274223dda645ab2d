package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SubmitJoinRequest creates a pending join request from an invite code.
//
// The code must already be uppercase-normalized. The roster is untouched:
// nothing moves the user into the organization until an admin or lead
// approves the request.
func (s *Service) SubmitJoinRequest(ctx context.Context, userID uuid.UUID, code string) (*MemberRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	org, err := getOrg(ctx, tx, `WHERE invite_code = $1`, code)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			return nil, ErrInviteCodeNotFound
		}
		return nil, err
	}

	var rawStatus *string
	err = tx.QueryRow(ctx, `
		SELECT status FROM org_memberships
		WHERE org_id = $1 AND user_id = $2
	`, org.ID, userID).Scan(&rawStatus)
	switch {
	case err == nil:
		if NormalizeStatus(rawStatus) == StatusActive {
			return nil, ErrAlreadyMember
		}
	case errors.Is(err, pgx.ErrNoRows):
		// Not on the roster; that is the expected path.
	default:
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}

	var request MemberRequest
	err = tx.QueryRow(ctx, `
		INSERT INTO member_requests (org_id, user_id, invite_code, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, org_id, user_id, invite_code, status, requested_at, processed_at, processed_by
	`, org.ID, userID, code, RequestPending).Scan(
		&request.ID,
		&request.OrgID,
		&request.UserID,
		&request.InviteCode,
		&request.Status,
		&request.RequestedAt,
		&request.ProcessedAt,
		&request.ProcessedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Partial unique index: one pending request per (org, user).
			return nil, ErrRequestAlreadyOpen
		}
		return nil, fmt.Errorf("failed to create join request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &request, nil
}

// CancelJoinRequest deletes the caller's most recent pending join request.
// A second call fails cleanly with ErrRequestNotFound.
func (s *Service) CancelJoinRequest(ctx context.Context, userID uuid.UUID) (*MemberRequest, error) {
	var request MemberRequest
	err := s.pool.QueryRow(ctx, `
		DELETE FROM member_requests
		WHERE id = (
			SELECT id FROM member_requests
			WHERE user_id = $1 AND status = $2
			ORDER BY requested_at DESC
			LIMIT 1
		)
		RETURNING id, org_id, user_id, invite_code, status, requested_at, processed_at, processed_by
	`, userID, RequestPending).Scan(
		&request.ID,
		&request.OrgID,
		&request.UserID,
		&request.InviteCode,
		&request.Status,
		&request.RequestedAt,
		&request.ProcessedAt,
		&request.ProcessedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to cancel join request: %w", err)
	}

	return &request, nil
}

// LatestRequest returns the caller's most recently created request regardless
// of terminal state, so the client can distinguish "never asked", "waiting",
// and "rejected". Returns ErrRequestNotFound when the user never submitted one.
func (s *Service) LatestRequest(ctx context.Context, userID uuid.UUID) (*MemberRequest, error) {
	var request MemberRequest
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, user_id, invite_code, status, requested_at, processed_at, processed_by
		FROM member_requests
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT 1
	`, userID).Scan(
		&request.ID,
		&request.OrgID,
		&request.UserID,
		&request.InviteCode,
		&request.Status,
		&request.RequestedAt,
		&request.ProcessedAt,
		&request.ProcessedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to load join request: %w", err)
	}

	return &request, nil
}

// ListPendingRequests returns the pending join requests for the caller's
// current organization, newest first. The caller's live role there must be
// ADMIN or LEAD.
func (s *Service) ListPendingRequests(ctx context.Context, actorUserID uuid.UUID) ([]PendingRequestInfo, error) {
	orgID, _, err := s.RequireRequestManager(ctx, actorUserID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.user_id, u.email, u.name, r.requested_at
		FROM member_requests r
		INNER JOIN users u ON u.id = r.user_id
		WHERE r.org_id = $1 AND r.status = $2
		ORDER BY r.requested_at DESC
	`, orgID, RequestPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	var requests []PendingRequestInfo
	for rows.Next() {
		var req PendingRequestInfo
		if err := rows.Scan(&req.ID, &req.UserID, &req.Email, &req.Name, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending requests: %w", err)
	}

	return requests, nil
}

// ApproveRequest moves a pending request's user onto the roster as an active
// MEMBER. The roster entry, the request record, and the user's
// current-organization cache are written in one transaction.
func (s *Service) ApproveRequest(ctx context.Context, actorUserID, requestID uuid.UUID) (*MemberRequest, error) {
	return s.processRequest(ctx, actorUserID, requestID, true)
}

// RejectRequest marks a pending request rejected. The record is retained so
// the requester's status query can surface the outcome.
func (s *Service) RejectRequest(ctx context.Context, actorUserID, requestID uuid.UUID) (*MemberRequest, error) {
	return s.processRequest(ctx, actorUserID, requestID, false)
}

func (s *Service) processRequest(ctx context.Context, actorUserID, requestID uuid.UUID, approve bool) (*MemberRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	actorOrgID, actorRole, err := currentMembership(ctx, tx, actorUserID)
	if err != nil {
		return nil, err
	}
	if !actorRole.CanManageRequests() {
		return nil, ErrInsufficientPermissions
	}

	var request MemberRequest
	if err := tx.QueryRow(ctx, `
		SELECT id, org_id, user_id, invite_code, status, requested_at, processed_at, processed_by
		FROM member_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID).Scan(
		&request.ID,
		&request.OrgID,
		&request.UserID,
		&request.InviteCode,
		&request.Status,
		&request.RequestedAt,
		&request.ProcessedAt,
		&request.ProcessedBy,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to load join request: %w", err)
	}

	if request.OrgID != actorOrgID {
		return nil, ErrRequestWrongOrg
	}
	if request.Status != RequestPending {
		return nil, ErrRequestNotPending
	}

	newStatus := RequestApproved
	if !approve {
		newStatus = RequestRejected
	}

	if err := tx.QueryRow(ctx, `
		UPDATE member_requests
		SET status = $2, processed_at = NOW(), processed_by = $3
		WHERE id = $1
		RETURNING status, processed_at, processed_by
	`, request.ID, newStatus, actorUserID).Scan(
		&request.Status,
		&request.ProcessedAt,
		&request.ProcessedBy,
	); err != nil {
		return nil, fmt.Errorf("failed to update join request: %w", err)
	}

	if approve {
		// A lingering pending roster row is activated rather than duplicated.
		if _, err := tx.Exec(ctx, `
			INSERT INTO org_memberships (org_id, user_id, role, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (org_id, user_id)
			DO UPDATE SET status = EXCLUDED.status
		`, request.OrgID, request.UserID, RoleMember, StatusActive); err != nil {
			return nil, fmt.Errorf("failed to create membership: %w", err)
		}

		// First membership becomes the user's current organization.
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET current_org_id = $2, org_id = $2, role = $3, updated_at = NOW()
			WHERE id = $1 AND current_org_id IS NULL
		`, request.UserID, request.OrgID, RoleMember); err != nil {
			return nil, fmt.Errorf("failed to update user organization cache: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &request, nil
}
