package tasks

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the workflow state of a task
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// IsValid checks whether the status is one of the known workflow states
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task represents a unit of work within an organization, optionally attached
// to a project and assigned to a member.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	OrgID            uuid.UUID  `json:"org_id"`
	ProjectID        *uuid.UUID `json:"project_id"`
	Title            string     `json:"title"`
	Status           TaskStatus `json:"status"`
	AssignedToUserID *uuid.UUID `json:"assigned_to_user_id"`
	CreatedByUserID  uuid.UUID  `json:"created_by_user_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
