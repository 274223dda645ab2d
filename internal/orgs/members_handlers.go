package orgs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// UpdateRoleRequest carries the new role for a roster member.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// HandleUpdateMemberRole handles PATCH /api/v1/members/{user_id}/role
func HandleUpdateMemberRole(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := auth.GetUserID(ctx)

		targetID, err := uuid.Parse(chi.URLParam(r, "user_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid user ID")
			return
		}

		var req UpdateRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		newRole, ok := ParseRole(req.Role)
		if !ok {
			apperrors.WriteBadRequest(w, r, "Invalid role: must be ADMIN, LEAD, or MEMBER")
			return
		}

		service := NewService(pool)
		change, err := service.UpdateMemberRole(ctx, actorID, targetID, newRole)
		if err != nil {
			var leadsErr *LeadsProjectsError
			switch {
			case errors.Is(err, ErrNoCurrentOrganization), errors.Is(err, ErrNotMember),
				errors.Is(err, ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrMemberNotFound):
				apperrors.WriteForbidden(w, r, "User is not an active member of your organization")
			case errors.Is(err, ErrCannotChangeOwnerRole):
				apperrors.WriteConflict(w, r, "The organization owner must remain an administrator")
			case errors.Is(err, ErrLastAdmin):
				apperrors.WriteConflict(w, r, "Cannot demote the last administrator")
			case errors.As(err, &leadsErr):
				apperrors.WriteConflictDetails(w, r,
					"Member still leads projects; reassign them first", leadsErr.Details())
			default:
				log.Error().Err(err).Msg("Failed to update member role")
				apperrors.WriteInternalError(w, r, "Failed to update member role")
			}
			return
		}

		orgID, _, _ := service.CurrentMembership(ctx, actorID)
		if err := auditor.LogOrgMemberRoleUpdated(ctx, orgID, actorID, targetID,
			string(change.PreviousRole), string(change.NewRole)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"user_id":       targetID,
			"previous_role": change.PreviousRole,
			"role":          change.NewRole,
		})
	}
}

// HandleRemoveMember handles DELETE /api/v1/members/{user_id}
func HandleRemoveMember(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := auth.GetUserID(ctx)

		targetID, err := uuid.Parse(chi.URLParam(r, "user_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid user ID")
			return
		}

		service := NewService(pool)
		removedRole, err := service.RemoveMember(ctx, actorID, targetID)
		if err != nil {
			var blocked *RemovalBlockedError
			switch {
			case errors.Is(err, ErrCannotRemoveSelf):
				apperrors.WriteBadRequest(w, r, "Use the leave endpoint to remove yourself")
			case errors.Is(err, ErrNoCurrentOrganization), errors.Is(err, ErrNotMember),
				errors.Is(err, ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrMemberNotFound):
				apperrors.WriteForbidden(w, r, "User is not an active member of your organization")
			case errors.Is(err, ErrCannotRemoveOwner):
				apperrors.WriteConflict(w, r, "The organization owner cannot be removed")
			case errors.As(err, &blocked):
				apperrors.WriteConflictDetails(w, r,
					"Member still has assignments in this organization", blocked.Details())
			default:
				log.Error().Err(err).Msg("Failed to remove member")
				apperrors.WriteInternalError(w, r, "Failed to remove member")
			}
			return
		}

		orgID, _, _ := service.CurrentMembership(ctx, actorID)
		if err := auditor.LogOrgMemberRemoved(ctx, orgID, actorID, targetID, string(removedRole)); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"user_id":      targetID,
			"removed_role": removedRole,
		})
	}
}
