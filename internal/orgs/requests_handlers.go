package orgs

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// JoinRequestBody carries the invite code for a join request.
type JoinRequestBody struct {
	InviteCode string `json:"invite_code"`
}

type requestResponse struct {
	ID          uuid.UUID     `json:"id"`
	OrgID       uuid.UUID     `json:"org_id"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
}

func toRequestResponse(req *MemberRequest) requestResponse {
	return requestResponse{
		ID:          req.ID,
		OrgID:       req.OrgID,
		Status:      req.Status,
		RequestedAt: req.RequestedAt,
	}
}

// HandleSubmitRequest handles POST /api/v1/member-requests
func HandleSubmitRequest(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var body JoinRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		code := validation.NormalizeInviteCode(body.InviteCode)
		if err := validation.ValidateInviteCode(code); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		service := NewService(pool)
		req, err := service.SubmitJoinRequest(ctx, userID, code)
		if err != nil {
			switch {
			case errors.Is(err, ErrInviteCodeNotFound):
				apperrors.WriteNotFound(w, r, "No organization matches that invite code")
			case errors.Is(err, ErrAlreadyMember):
				apperrors.WriteConflict(w, r, "You are already a member of this organization")
			case errors.Is(err, ErrRequestAlreadyOpen):
				apperrors.WriteConflict(w, r, "You already have a pending request for this organization")
			default:
				log.Error().Err(err).Msg("Failed to submit join request")
				apperrors.WriteInternalError(w, r, "Failed to submit join request")
			}
			return
		}

		if err := auditor.LogJoinRequested(ctx, req.OrgID, userID, req.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"request": toRequestResponse(req),
		})
	}
}

// HandleCancelRequest handles DELETE /api/v1/member-requests/pending
func HandleCancelRequest(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		req, err := service.CancelJoinRequest(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				apperrors.WriteNotFound(w, r, "No pending join request to cancel")
				return
			}
			log.Error().Err(err).Msg("Failed to cancel join request")
			apperrors.WriteInternalError(w, r, "Failed to cancel join request")
			return
		}

		if err := auditor.LogJoinRequestCancelled(ctx, req.OrgID, userID, req.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"request": toRequestResponse(req),
		})
	}
}

// HandleRequestStatus handles GET /api/v1/member-requests/latest
func HandleRequestStatus(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		req, err := service.LatestRequest(ctx, userID)
		if err != nil && !errors.Is(err, ErrRequestNotFound) {
			log.Error().Err(err).Msg("Failed to load join request status")
			apperrors.WriteInternalError(w, r, "Failed to load join request status")
			return
		}

		if req == nil {
			apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
				"request": nil,
			})
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"request": toRequestResponse(req),
		})
	}
}

// HandleListPendingRequests handles GET /api/v1/member-requests/pending
func HandleListPendingRequests(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		pending, err := service.ListPendingRequests(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNoCurrentOrganization) || errors.Is(err, ErrNotMember) ||
				errors.Is(err, ErrInsufficientPermissions) {
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
				return
			}
			log.Error().Err(err).Msg("Failed to list pending requests")
			apperrors.WriteInternalError(w, r, "Failed to list pending requests")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"requests": pending,
		})
	}
}

// HandleApproveRequest handles POST /api/v1/member-requests/{request_id}/approve
func HandleApproveRequest(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return processRequestHandler(pool, auditor, true)
}

// HandleRejectRequest handles POST /api/v1/member-requests/{request_id}/reject
func HandleRejectRequest(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return processRequestHandler(pool, auditor, false)
}

func processRequestHandler(pool *pgxpool.Pool, auditor *audit.Writer, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := auth.GetUserID(ctx)

		requestID, err := uuid.Parse(chi.URLParam(r, "request_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request ID")
			return
		}

		service := NewService(pool)
		var req *MemberRequest
		if approve {
			req, err = service.ApproveRequest(ctx, actorID, requestID)
		} else {
			req, err = service.RejectRequest(ctx, actorID, requestID)
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrNoCurrentOrganization), errors.Is(err, ErrNotMember),
				errors.Is(err, ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrRequestWrongOrg):
				apperrors.WriteNotFound(w, r, "Join request not found")
			case errors.Is(err, ErrRequestNotPending):
				apperrors.WriteConflict(w, r, "Join request has already been processed")
			default:
				log.Error().Err(err).Msg("Failed to process join request")
				apperrors.WriteInternalError(w, r, "Failed to process join request")
			}
			return
		}

		if err := auditor.LogJoinRequestProcessed(ctx, req.OrgID, actorID, req.UserID, approve); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"request": toRequestResponse(req),
		})
	}
}
