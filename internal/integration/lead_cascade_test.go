package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/crewdeck/crewdeck/internal/projects"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestE2E_LeadReassignmentCascade(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	ownerClient, ownerCSRF := newCSRFClient(t, srv.URL)
	aliceClient, aliceCSRF := newCSRFClient(t, srv.URL)
	bobClient, bobCSRF := newCSRFClient(t, srv.URL)

	password := "password123"
	signupAndLogin(t, ownerClient, srv.URL, ownerCSRF, "owner@example.com", "Owner", password)
	aliceID := signupAndLogin(t, aliceClient, srv.URL, aliceCSRF, "alice@example.com", "Alice", password)
	bobID := signupAndLogin(t, bobClient, srv.URL, bobCSRF, "bob@example.com", "Bob", password)

	orgID, inviteCode := createOrg(t, ownerClient, srv.URL, ownerCSRF, "Acme")

	// Alice and Bob join through the request workflow.
	for _, c := range []struct {
		client *http.Client
		csrf   string
	}{
		{aliceClient, aliceCSRF},
		{bobClient, bobCSRF},
	} {
		reqID := submitJoinRequest(t, c.client, srv.URL, c.csrf, inviteCode)
		doJSONExpectSuccess(t, ownerClient, http.MethodPost, srv.URL+"/api/v1/member-requests/"+reqID.String()+"/approve", ownerCSRF, http.StatusOK, nil)
	}

	// Creating the project promotes its lead from MEMBER to LEAD.
	projectID := createProject(t, ownerClient, srv.URL, ownerCSRF, "Launch", aliceID)
	require.Equal(t, orgs.RoleLead, memberRole(t, pool, orgID, aliceID))
	require.Equal(t, orgs.RoleMember, memberRole(t, pool, orgID, bobID))

	// Three open project tasks on Alice, plus one finished task that moves
	// with them and one task outside the project that must not.
	for _, title := range []string{"Draft plan", "Review budget", "Book venue"} {
		createTask(t, ownerClient, srv.URL, ownerCSRF, title, &projectID, &aliceID)
	}
	doneTaskID := createTask(t, ownerClient, srv.URL, ownerCSRF, "Kickoff", &projectID, &aliceID)
	doJSONExpectSuccess(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/tasks/"+doneTaskID.String()+"/status", ownerCSRF, http.StatusOK, map[string]any{
		"status": "done",
	})
	looseTaskID := createTask(t, ownerClient, srv.URL, ownerCSRF, "Unrelated chore", nil, &aliceID)

	// Bob is still a MEMBER: creating or moving tasks is off limits.
	errEnv := doJSONExpectError(t, bobClient, http.MethodPost, srv.URL+"/api/v1/tasks", bobCSRF, http.StatusForbidden, map[string]any{
		"title":       "Sneaky task",
		"project_id":  projectID,
		"assignee_id": bobID,
	})
	require.Equal(t, "forbidden", errEnv.Code)
	doJSONExpectError(t, bobClient, http.MethodPatch, srv.URL+"/api/v1/tasks/"+looseTaskID.String()+"/assignee", bobCSRF, http.StatusForbidden, map[string]any{
		"assignee_id": bobID,
	})

	// Only an admin may reassign the lead; the lead themselves cannot.
	doJSONExpectError(t, aliceClient, http.MethodPatch, srv.URL+"/api/v1/projects/"+projectID.String(), aliceCSRF, http.StatusForbidden, map[string]any{
		"lead_id": bobID,
	})

	// An outsider cannot be made lead.
	doJSONExpectError(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/projects/"+projectID.String(), ownerCSRF, http.StatusBadRequest, map[string]any{
		"lead_id": uuid.New(),
	})

	env := doJSONExpectSuccess(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/projects/"+projectID.String(), ownerCSRF, http.StatusOK, map[string]any{
		"lead_id": bobID,
	})

	var parsed struct {
		Change projects.LeadChange `json:"change"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))
	require.Equal(t, aliceID, parsed.Change.PreviousLeadID)
	require.Equal(t, bobID, parsed.Change.NewLeadID)
	require.Equal(t, 4, parsed.Change.TasksReassigned)
	require.True(t, parsed.Change.NewLeadPromoted)
	require.True(t, parsed.Change.OldLeadDemoted)

	// Bob leads now; Alice stepped back down to MEMBER.
	require.Equal(t, orgs.RoleLead, memberRole(t, pool, orgID, bobID))
	require.Equal(t, orgs.RoleMember, memberRole(t, pool, orgID, aliceID))

	// Every project task moved to Bob, the finished one included; only the
	// task outside the project stayed with Alice.
	require.Equal(t, bobID, taskAssignee(t, pool, projectID, "Draft plan"))
	require.Equal(t, bobID, assigneeByID(t, pool, doneTaskID))
	require.Equal(t, aliceID, assigneeByID(t, pool, looseTaskID))

	// Both leads remain on the project roster.
	projSvc := projects.NewService(pool)
	members, err := projSvc.ListMembers(context.Background(), projectID)
	require.NoError(t, err)
	memberIDs := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		memberIDs[m.UserID] = true
	}
	require.True(t, memberIDs[aliceID])
	require.True(t, memberIDs[bobID])

	// Re-asserting the current lead is a clean no-op: nothing moves, nobody
	// changes role.
	env = doJSONExpectSuccess(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/projects/"+projectID.String(), ownerCSRF, http.StatusOK, map[string]any{
		"lead_id": bobID,
	})
	require.NoError(t, json.Unmarshal(env.Data, &parsed))
	require.Equal(t, bobID, parsed.Change.PreviousLeadID)
	require.Equal(t, bobID, parsed.Change.NewLeadID)
	require.Equal(t, 0, parsed.Change.TasksReassigned)
	require.False(t, parsed.Change.NewLeadPromoted)
	require.False(t, parsed.Change.OldLeadDemoted)
	require.Equal(t, bobID, taskAssignee(t, pool, projectID, "Draft plan"))
	require.Equal(t, orgs.RoleLead, memberRole(t, pool, orgID, bobID))
}

func memberRole(t *testing.T, pool *pgxpool.Pool, orgID, userID uuid.UUID) orgs.OrgRole {
	t.Helper()

	var role orgs.OrgRole
	err := pool.QueryRow(context.Background(), `
		SELECT role FROM org_memberships WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role)
	require.NoError(t, err)
	return role
}

func taskAssignee(t *testing.T, pool *pgxpool.Pool, projectID uuid.UUID, title string) uuid.UUID {
	t.Helper()

	var assignee uuid.UUID
	err := pool.QueryRow(context.Background(), `
		SELECT assigned_to_user_id FROM tasks WHERE project_id = $1 AND title = $2
	`, projectID, title).Scan(&assignee)
	require.NoError(t, err)
	return assignee
}

func assigneeByID(t *testing.T, pool *pgxpool.Pool, taskID uuid.UUID) uuid.UUID {
	t.Helper()

	var assignee uuid.UUID
	err := pool.QueryRow(context.Background(), `
		SELECT assigned_to_user_id FROM tasks WHERE id = $1
	`, taskID).Scan(&assignee)
	require.NoError(t, err)
	return assignee
}
