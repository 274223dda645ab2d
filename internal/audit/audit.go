package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventUserSignup            = "user.signup"
	EventLoginFailed           = "auth.login_failed"
	EventOrgCreated            = "org.created"
	EventJoinRequested         = "org.join_requested"
	EventJoinRequestCancelled  = "org.join_request_cancelled"
	EventJoinRequestApproved   = "org.join_request_approved"
	EventJoinRequestRejected   = "org.join_request_rejected"
	EventOrgMemberRoleUpdated  = "org.member_role_updated"
	EventOrgMemberRemoved      = "org.member_removed"
	EventOrgMemberLeft         = "org.member_left"
	EventOrgSwitched           = "org.switched"
	EventProjectCreated        = "project.created"
	EventProjectMemberAdded    = "project.member_added"
	EventProjectLeadReassigned = "project.lead_reassigned"
	EventTaskCreated           = "task.created"
	EventTaskReassigned        = "task.reassigned"
	EventMaintenanceRepairRun  = "maintenance.repair_run"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	OrgID       uuid.NullUUID          `db:"org_id"`
	ProjectID   uuid.NullUUID          `db:"project_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	ProjectID   *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (org_id, project_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := w.pool.Exec(ctx, query,
		toNullUUID(params.OrgID),
		toNullUUID(params.ProjectID),
		toNullUUID(params.ActorUserID),
		params.Action,
		metaJSON,
	)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("org_id", params.OrgID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) error {
	return w.Log(ctx, LogParams{
		ActorUserID: &userID,
		Action:      EventUserSignup,
		Meta: map[string]interface{}{
			"email": email,
		},
	})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) error {
	return w.Log(ctx, LogParams{
		Action: EventLoginFailed,
		Meta: map[string]interface{}{
			"email": email,
			"ip":    ip,
		},
	})
}

func (w *Writer) LogOrgCreated(ctx context.Context, orgID, actorUserID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventOrgCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogJoinRequested(ctx context.Context, orgID, userID, requestID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventJoinRequested,
		Meta: map[string]interface{}{
			"request_id": requestID.String(),
		},
	})
}

func (w *Writer) LogJoinRequestCancelled(ctx context.Context, orgID, userID, requestID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventJoinRequestCancelled,
		Meta: map[string]interface{}{
			"request_id": requestID.String(),
		},
	})
}

func (w *Writer) LogJoinRequestProcessed(ctx context.Context, orgID, actorUserID, subjectUserID uuid.UUID, approved bool) error {
	action := EventJoinRequestApproved
	if !approved {
		action = EventJoinRequestRejected
	}
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      action,
		Meta: map[string]interface{}{
			"subject_user_id": subjectUserID.String(),
		},
	})
}

func (w *Writer) LogOrgMemberRoleUpdated(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, previousRole, newRole string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventOrgMemberRoleUpdated,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"previous_role":  previousRole,
			"new_role":       newRole,
		},
	})
}

func (w *Writer) LogOrgMemberRemoved(ctx context.Context, orgID, actorUserID, targetUserID uuid.UUID, removedRole string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventOrgMemberRemoved,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"removed_role":   removedRole,
		},
	})
}

func (w *Writer) LogOrgMemberLeft(ctx context.Context, orgID, userID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgMemberLeft,
	})
}

func (w *Writer) LogOrgSwitched(ctx context.Context, orgID, userID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &userID,
		Action:      EventOrgSwitched,
		Meta: map[string]interface{}{
			"role": role,
		},
	})
}

func (w *Writer) LogProjectCreated(ctx context.Context, orgID, projectID, actorUserID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventProjectCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogProjectMemberAdded(ctx context.Context, orgID, projectID, actorUserID, memberUserID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventProjectMemberAdded,
		Meta: map[string]interface{}{
			"member_user_id": memberUserID.String(),
		},
	})
}

func (w *Writer) LogProjectLeadReassigned(ctx context.Context, orgID, projectID, actorUserID, previousLeadID, newLeadID uuid.UUID, tasksReassigned int) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventProjectLeadReassigned,
		Meta: map[string]interface{}{
			"previous_lead_id": previousLeadID.String(),
			"new_lead_id":      newLeadID.String(),
			"tasks_reassigned": tasksReassigned,
		},
	})
}

func (w *Writer) LogTaskCreated(ctx context.Context, orgID uuid.UUID, projectID *uuid.UUID, actorUserID, taskID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ProjectID:   projectID,
		ActorUserID: &actorUserID,
		Action:      EventTaskCreated,
		Meta: map[string]interface{}{
			"task_id": taskID.String(),
		},
	})
}

func (w *Writer) LogTaskReassigned(ctx context.Context, orgID uuid.UUID, actorUserID, taskID uuid.UUID, newAssigneeID *uuid.UUID) error {
	meta := map[string]interface{}{
		"task_id": taskID.String(),
	}
	if newAssigneeID != nil {
		meta["new_assignee_id"] = newAssigneeID.String()
	}
	return w.Log(ctx, LogParams{
		OrgID:       &orgID,
		ActorUserID: &actorUserID,
		Action:      EventTaskReassigned,
		Meta:        meta,
	})
}

func (w *Writer) LogMaintenanceRepair(ctx context.Context, counters map[string]interface{}) error {
	return w.Log(ctx, LogParams{
		Action: EventMaintenanceRepairRun,
		Meta:   counters,
	})
}
