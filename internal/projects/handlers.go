package projects

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/crewdeck/crewdeck/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create a project
type CreateRequest struct {
	Name   string    `json:"name"`
	LeadID uuid.UUID `json:"lead_id"`
}

// UpdateLeadRequest carries the new lead for a project
type UpdateLeadRequest struct {
	LeadID uuid.UUID `json:"lead_id"`
}

// AddMemberRequest carries the user to add to the project roster
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// HandleCreate handles POST /api/v1/projects
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
		if req.LeadID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "lead_id is required")
			return
		}

		service := NewService(pool)
		project, err := service.Create(ctx, userID, req.Name, req.LeadID)
		if err != nil {
			switch {
			case errors.Is(err, orgs.ErrNoCurrentOrganization), errors.Is(err, orgs.ErrNotMember),
				errors.Is(err, orgs.ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrLeadNotActiveMember):
				apperrors.WriteBadRequest(w, r, "Lead must be an active member of your organization")
			default:
				log.Error().Err(err).Msg("Failed to create project")
				apperrors.WriteInternalError(w, r, "Failed to create project")
			}
			return
		}

		if err := auditor.LogProjectCreated(ctx, project.OrgID, project.ID, userID, project.Name); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"project": project,
		})
	}
}

// HandleList handles GET /api/v1/projects
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, _, err := orgs.NewService(pool).CurrentMembership(ctx, userID)
		if err != nil {
			if errors.Is(err, orgs.ErrNoCurrentOrganization) || errors.Is(err, orgs.ErrNotMember) {
				apperrors.WriteForbidden(w, r, "You are not a member of any organization")
				return
			}
			log.Error().Err(err).Msg("Failed to resolve current organization")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}

		service := NewService(pool)
		list, err := service.ListByOrg(ctx, orgID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list projects")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"projects": list,
		})
	}
}

// HandleGet handles GET /api/v1/projects/{project_id}
func HandleGet(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		service := NewService(pool)
		project, err := service.GetByID(ctx, projectID)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				apperrors.WriteNotFound(w, r, "Project not found")
				return
			}
			log.Error().Err(err).Msg("Failed to get project")
			apperrors.WriteInternalError(w, r, "Failed to get project")
			return
		}

		orgID, _, err := orgs.NewService(pool).CurrentMembership(ctx, userID)
		if err != nil || orgID != project.OrgID {
			apperrors.WriteNotFound(w, r, "Project not found")
			return
		}

		members, err := service.ListMembers(ctx, projectID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list project members")
			apperrors.WriteInternalError(w, r, "Failed to get project")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"project": project,
			"members": members,
		})
	}
}

// HandleUpdateLead handles PATCH /api/v1/projects/{project_id}
func HandleUpdateLead(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		var req UpdateLeadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.LeadID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "lead_id is required")
			return
		}

		service := NewService(pool)
		change, err := service.UpdateLead(ctx, userID, projectID, req.LeadID)
		if err != nil {
			switch {
			case errors.Is(err, ErrProjectNotFound):
				apperrors.WriteNotFound(w, r, "Project not found")
			case errors.Is(err, orgs.ErrNoCurrentOrganization), errors.Is(err, orgs.ErrNotMember),
				errors.Is(err, orgs.ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrLeadNotActiveMember):
				apperrors.WriteBadRequest(w, r, "Lead must be an active member of your organization")
			default:
				log.Error().Err(err).Msg("Failed to reassign project lead")
				apperrors.WriteInternalError(w, r, "Failed to reassign project lead")
			}
			return
		}

		project, err := service.GetByID(ctx, projectID)
		if err == nil {
			if err := auditor.LogProjectLeadReassigned(ctx, project.OrgID, projectID, userID,
				change.PreviousLeadID, change.NewLeadID, change.TasksReassigned); err != nil {
				log.Error().Err(err).Msg("Failed to log audit event")
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"change": change,
		})
	}
}

// HandleAddMember handles POST /api/v1/projects/{project_id}/members
func HandleAddMember(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actorID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		var req AddMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.UserID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "user_id is required")
			return
		}

		service := NewService(pool)
		if err := service.AddMember(ctx, actorID, projectID, req.UserID); err != nil {
			switch {
			case errors.Is(err, ErrProjectNotFound):
				apperrors.WriteNotFound(w, r, "Project not found")
			case errors.Is(err, orgs.ErrNoCurrentOrganization), errors.Is(err, orgs.ErrNotMember),
				errors.Is(err, orgs.ErrInsufficientPermissions):
				apperrors.WriteForbidden(w, r, "Insufficient permissions")
			case errors.Is(err, ErrMemberNotActiveInOrg):
				apperrors.WriteBadRequest(w, r, "User must be an active member of your organization")
			case errors.Is(err, ErrAlreadyProjectMember):
				apperrors.WriteConflict(w, r, "User is already a project member")
			default:
				log.Error().Err(err).Msg("Failed to add project member")
				apperrors.WriteInternalError(w, r, "Failed to add project member")
			}
			return
		}

		project, err := service.GetByID(ctx, projectID)
		if err == nil {
			if err := auditor.LogProjectMemberAdded(ctx, project.OrgID, projectID, actorID, req.UserID); err != nil {
				log.Error().Err(err).Msg("Failed to log audit event")
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"project_id": projectID,
			"user_id":    req.UserID,
		})
	}
}
