package orgs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemovalBlockedError_Details(t *testing.T) {
	err := &RemovalBlockedError{Reason: BlockedByAssignedTasks, Count: 3}
	require.Equal(t, map[string]any{"assignedTasks": 3}, err.Details())
	require.Contains(t, err.Error(), "3 assigned task(s)")

	err = &RemovalBlockedError{Reason: BlockedByLedProjects, Count: 1}
	require.Equal(t, map[string]any{"projectsLedByUser": 1}, err.Details())

	err = &RemovalBlockedError{Reason: BlockedByProjectMemberships, Count: 2}
	require.Equal(t, map[string]any{"projectMemberships": 2}, err.Details())
}

func TestLeadsProjectsError_Details(t *testing.T) {
	err := &LeadsProjectsError{Count: 4}
	require.Equal(t, map[string]any{"projectsLedByUser": 4}, err.Details())
	require.Contains(t, err.Error(), "4 project(s)")
}
