package orgs

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
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

// CreateRequest represents the request to create an organization
type CreateRequest struct {
	Name string `json:"name"`
}

type OrgCreateResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatedAt  time.Time `json:"created_at"`
}

type OrgListItemResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      OrgRole   `json:"role"`
	IsCurrent bool      `json:"is_current"`
}

// HandleCreate handles POST /api/v1/orgs
func HandleCreate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if err := validation.ValidateName(req.Name); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		service := NewService(pool)
		org, err := service.CreateWithAdmin(ctx, req.Name, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create organization")
			apperrors.WriteInternalError(w, r, "Failed to create organization")
			return
		}

		if err := auditor.LogOrgCreated(ctx, org.ID, userID, org.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"org": OrgCreateResponse{
				ID:         org.ID,
				Name:       org.Name,
				InviteCode: org.InviteCode,
				CreatedAt:  org.CreatedAt,
			},
		})
	}
}

// HandleList handles GET /api/v1/orgs
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		userOrgs, err := service.ListUserOrgs(ctx, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list organizations")
			apperrors.WriteInternalError(w, r, "Failed to list organizations")
			return
		}

		resp := make([]OrgListItemResponse, len(userOrgs))
		for i, org := range userOrgs {
			resp[i] = OrgListItemResponse{
				ID:        org.ID,
				Name:      org.Name,
				Role:      org.Role,
				IsCurrent: org.IsCurrent,
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"orgs": resp,
		})
	}
}

// HandleListMembers handles GET /api/v1/orgs/{org_id}/members
func HandleListMembers(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		members, err := service.ListMembers(ctx, orgID, userID)
		if err != nil {
			if errors.Is(err, ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Organization not found")
				return
			}
			log.Error().Err(err).Msg("Failed to list members")
			apperrors.WriteInternalError(w, r, "Failed to list members")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": members,
		})
	}
}

// LeaveResponse reports the outcome of a self-leave.
type LeaveResponse struct {
	LeftOrgID uuid.UUID `json:"left_org_id"`
}

// HandleLeave handles POST /api/v1/orgs/leave
func HandleLeave(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		orgID, err := service.Leave(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNoCurrentOrganization) {
				apperrors.WriteConflict(w, r, "You are not a member of any organization")
				return
			}
			if errors.Is(err, ErrNotMember) {
				apperrors.WriteForbidden(w, r, "No active membership in your current organization")
				return
			}
			if errors.Is(err, ErrOwnerCannotLeave) {
				apperrors.WriteConflict(w, r, "The organization owner cannot leave")
				return
			}
			log.Error().Err(err).Msg("Failed to leave organization")
			apperrors.WriteInternalError(w, r, "Failed to leave organization")
			return
		}

		if err := auditor.LogOrgMemberLeft(ctx, orgID, userID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, LeaveResponse{LeftOrgID: orgID})
	}
}

// SwitchRequest selects which membership becomes active.
type SwitchRequest struct {
	OrgID uuid.UUID `json:"org_id"`
}

// HandleSwitch handles POST /api/v1/orgs/switch
func HandleSwitch(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req SwitchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.OrgID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "org_id is required")
			return
		}

		service := NewService(pool)
		role, err := service.SwitchOrganization(ctx, userID, req.OrgID)
		if err != nil {
			if errors.Is(err, ErrNotActiveInTargetOrg) {
				apperrors.WriteForbidden(w, r, "No active membership in the target organization")
				return
			}
			log.Error().Err(err).Msg("Failed to switch organization")
			apperrors.WriteInternalError(w, r, "Failed to switch organization")
			return
		}

		if err := auditor.LogOrgSwitched(ctx, req.OrgID, userID, string(role)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"org_id": req.OrgID,
			"role":   role,
		})
	}
}

// HandleListAudit handles GET /api/v1/orgs/{org_id}/audit
func HandleListAudit(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid organization ID")
			return
		}

		service := NewService(pool)
		role, err := service.activeRole(ctx, pool, userID, orgID)
		if err != nil {
			if errors.Is(err, ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Organization not found")
				return
			}
			log.Error().Err(err).Msg("Failed to check org permission")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
			return
		}
		if role != RoleAdmin {
			apperrors.WriteForbidden(w, r, "Insufficient permissions")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = v
			}
		}

		reader := audit.NewReader(pool)
		events, err := reader.ListByOrg(ctx, orgID, limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list audit log")
			apperrors.WriteInternalError(w, r, "Failed to list audit log")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": events,
		})
	}
}
