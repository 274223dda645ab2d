package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create a task
type CreateRequest struct {
	Title      string     `json:"title"`
	ProjectID  *uuid.UUID `json:"project_id"`
	AssigneeID *uuid.UUID `json:"assignee_id"`
}

// ReassignRequest carries the new assignee; null unassigns the task
type ReassignRequest struct {
	AssigneeID *uuid.UUID `json:"assignee_id"`
}

// UpdateStatusRequest carries the new workflow state
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func writeMembershipError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, orgs.ErrNoCurrentOrganization), errors.Is(err, orgs.ErrNotMember):
		apperrors.WriteForbidden(w, r, "You are not a member of any organization")
		return true
	case errors.Is(err, orgs.ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "Insufficient permissions")
		return true
	}
	return false
}

// HandleCreate handles POST /api/v1/tasks
func HandleCreate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" || len(req.Title) > 500 {
			apperrors.WriteBadRequest(w, r, "Title must be between 1 and 500 characters")
			return
		}

		service := NewService(pool)
		task, err := service.Create(ctx, userID, req.Title, req.ProjectID, req.AssigneeID)
		if err != nil {
			switch {
			case writeMembershipError(w, r, err):
			case errors.Is(err, ErrAssigneeNotActiveMember):
				apperrors.WriteBadRequest(w, r, "Assignee must be an active member of your organization")
			case errors.Is(err, ErrProjectWrongOrg):
				apperrors.WriteBadRequest(w, r, "Project not found in your organization")
			default:
				log.Error().Err(err).Msg("Failed to create task")
				apperrors.WriteInternalError(w, r, "Failed to create task")
			}
			return
		}

		if err := auditor.LogTaskCreated(ctx, task.OrgID, task.ProjectID, userID, task.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"task": task,
		})
	}
}

// HandleList handles GET /api/v1/tasks
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, _, err := orgs.NewService(pool).CurrentMembership(ctx, userID)
		if err != nil {
			if !writeMembershipError(w, r, err) {
				log.Error().Err(err).Msg("Failed to resolve current organization")
				apperrors.WriteInternalError(w, r, "Failed to list tasks")
			}
			return
		}

		var assigneeID, projectID *uuid.UUID
		if raw := r.URL.Query().Get("assignee_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				apperrors.WriteBadRequest(w, r, "Invalid assignee_id")
				return
			}
			assigneeID = &id
		}
		if raw := r.URL.Query().Get("project_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				apperrors.WriteBadRequest(w, r, "Invalid project_id")
				return
			}
			projectID = &id
		}

		service := NewService(pool)
		list, err := service.ListByOrg(ctx, orgID, assigneeID, projectID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list tasks")
			apperrors.WriteInternalError(w, r, "Failed to list tasks")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"tasks": list,
		})
	}
}

// HandleReassign handles PATCH /api/v1/tasks/{task_id}/assignee
func HandleReassign(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid task ID")
			return
		}

		var req ReassignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		task, err := service.Reassign(ctx, userID, taskID, req.AssigneeID)
		if err != nil {
			switch {
			case writeMembershipError(w, r, err):
			case errors.Is(err, ErrTaskNotFound):
				apperrors.WriteNotFound(w, r, "Task not found")
			case errors.Is(err, ErrAssigneeNotActiveMember):
				apperrors.WriteBadRequest(w, r, "Assignee must be an active member of your organization")
			default:
				log.Error().Err(err).Msg("Failed to reassign task")
				apperrors.WriteInternalError(w, r, "Failed to reassign task")
			}
			return
		}

		if err := auditor.LogTaskReassigned(ctx, task.OrgID, userID, task.ID, task.AssignedToUserID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"task": task,
		})
	}
}

// HandleUpdateStatus handles PATCH /api/v1/tasks/{task_id}/status
func HandleUpdateStatus(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid task ID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		service := NewService(pool)
		task, err := service.UpdateStatus(ctx, userID, taskID, TaskStatus(req.Status))
		if err != nil {
			switch {
			case writeMembershipError(w, r, err):
			case errors.Is(err, ErrInvalidStatus):
				apperrors.WriteBadRequest(w, r, "Status must be todo, in_progress, or done")
			case errors.Is(err, ErrTaskNotFound):
				apperrors.WriteNotFound(w, r, "Task not found")
			default:
				log.Error().Err(err).Msg("Failed to update task status")
				apperrors.WriteInternalError(w, r, "Failed to update task status")
			}
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"task": task,
		})
	}
}
