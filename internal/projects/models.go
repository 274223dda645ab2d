package projects

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a project within an organization
type Project struct {
	ID              uuid.UUID `json:"id"`
	OrgID           uuid.UUID `json:"org_id"`
	Name            string    `json:"name"`
	LeadID          uuid.UUID `json:"lead_id"`
	CreatedByUserID uuid.UUID `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Member is one project roster entry joined with the user record.
type Member struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// LeadChange reports the outcome of a lead reassignment cascade.
type LeadChange struct {
	ProjectID       uuid.UUID `json:"project_id"`
	PreviousLeadID  uuid.UUID `json:"previous_lead_id"`
	NewLeadID       uuid.UUID `json:"new_lead_id"`
	TasksReassigned int       `json:"tasks_reassigned"`
	NewLeadPromoted bool      `json:"new_lead_promoted"`
	OldLeadDemoted  bool      `json:"old_lead_demoted"`
}
