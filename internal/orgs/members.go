package orgs

import (
	"errors"
	"fmt"
)

var (
	ErrMemberNotFound        = errors.New("member not found in this organization")
	ErrLastAdmin             = errors.New("organization must have at least one admin")
	ErrCannotChangeOwnerRole = errors.New("organization owner's role cannot be changed")
	ErrOwnerCannotLeave      = errors.New("organization owner cannot leave; transfer or delete the organization first")
	ErrCannotRemoveOwner     = errors.New("organization owner cannot be removed")
	ErrCannotRemoveSelf      = errors.New("cannot remove yourself; leave the organization instead")
	ErrNotActiveInTargetOrg  = errors.New("no active membership in the target organization")
)

// Removal-blocking reasons. Each maps to a distinct conflict whose details
// payload names the live count the caller must drive to zero first.
const (
	BlockedByAssignedTasks      = "assignedTasks"
	BlockedByLedProjects        = "projectsLedByUser"
	BlockedByProjectMemberships = "projectMemberships"
)

// RemovalBlockedError reports why a member cannot be removed and how many
// live records stand in the way.
type RemovalBlockedError struct {
	Reason string
	Count  int
}

func (e *RemovalBlockedError) Error() string {
	switch e.Reason {
	case BlockedByAssignedTasks:
		return fmt.Sprintf("member has %d assigned task(s); reassign them first", e.Count)
	case BlockedByLedProjects:
		return fmt.Sprintf("member leads %d project(s); reassign project leads first", e.Count)
	case BlockedByProjectMemberships:
		return fmt.Sprintf("member belongs to %d project(s); remove them from the projects first", e.Count)
	default:
		return fmt.Sprintf("member removal blocked: %s=%d", e.Reason, e.Count)
	}
}

// Details returns the machine-usable conflict payload.
func (e *RemovalBlockedError) Details() map[string]any {
	return map[string]any{e.Reason: e.Count}
}

// LeadsProjectsError blocks a Lead-to-Member demotion while the target still
// leads projects.
type LeadsProjectsError struct {
	Count int
}

func (e *LeadsProjectsError) Error() string {
	return fmt.Sprintf("user leads %d project(s); reassign project leads before demoting", e.Count)
}

// Details returns the machine-usable conflict payload.
func (e *LeadsProjectsError) Details() map[string]any {
	return map[string]any{BlockedByLedProjects: e.Count}
}
