package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestE2E_JoinRequest_Roles_RemovalGuards_Audit(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	ownerClient, ownerCSRF := newCSRFClient(t, srv.URL)
	reqClient, reqCSRF := newCSRFClient(t, srv.URL)

	password := "password123"
	ownerID := signupAndLogin(t, ownerClient, srv.URL, ownerCSRF, "owner@example.com", "Owner", password)
	requesterID := signupAndLogin(t, reqClient, srv.URL, reqCSRF, "newcomer@example.com", "Newcomer", password)

	orgID, inviteCode := createOrg(t, ownerClient, srv.URL, ownerCSRF, "Acme")

	// Unknown invite code.
	{
		errEnv := doJSONExpectError(t, reqClient, http.MethodPost, srv.URL+"/api/v1/member-requests", reqCSRF, http.StatusNotFound, map[string]any{
			"invite_code": "ZZZZZ9",
		})
		require.Equal(t, "not_found", errEnv.Code)
	}

	// Submit, duplicate submit, cancel, resubmit. Lowercase input must match
	// the stored uppercase code.
	submitJoinRequest(t, reqClient, srv.URL, reqCSRF, inviteCode)
	{
		errEnv := doJSONExpectError(t, reqClient, http.MethodPost, srv.URL+"/api/v1/member-requests", reqCSRF, http.StatusConflict, map[string]any{
			"invite_code": inviteCode,
		})
		require.Equal(t, "conflict", errEnv.Code)
	}
	doJSONExpectSuccess(t, reqClient, http.MethodDelete, srv.URL+"/api/v1/member-requests/pending", reqCSRF, http.StatusOK, nil)
	requestID := submitJoinRequest(t, reqClient, srv.URL, reqCSRF, inviteCode)

	// The requester cannot see or approve pending requests.
	doJSONExpectError(t, reqClient, http.MethodPost, srv.URL+"/api/v1/member-requests/"+requestID.String()+"/approve", reqCSRF, http.StatusForbidden, nil)

	// Owner sees exactly one pending request and approves it.
	pending := listPendingRequests(t, ownerClient, srv.URL)
	require.Len(t, pending, 1)
	require.Equal(t, requesterID, pending[0].UserID)

	doJSONExpectSuccess(t, ownerClient, http.MethodPost, srv.URL+"/api/v1/member-requests/"+requestID.String()+"/approve", ownerCSRF, http.StatusOK, nil)

	// Approving twice conflicts.
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodPost, srv.URL+"/api/v1/member-requests/"+requestID.String()+"/approve", ownerCSRF, http.StatusConflict, nil)
		require.Equal(t, "conflict", errEnv.Code)
	}

	// First organization becomes the requester's current one.
	profile := getProfile(t, reqClient, srv.URL)
	require.NotNil(t, profile.CurrentOrgID)
	require.Equal(t, orgID, *profile.CurrentOrgID)
	require.Len(t, profile.Organizations, 1)
	require.Equal(t, "MEMBER", profile.Organizations[0].Role)

	members := listMembers(t, ownerClient, srv.URL, orgID)
	require.Len(t, members, 2)

	// Role transitions: MEMBER -> ADMIN -> MEMBER.
	updateRole(t, ownerClient, srv.URL, ownerCSRF, requesterID, "ADMIN")
	updateRole(t, ownerClient, srv.URL, ownerCSRF, requesterID, "MEMBER")

	// Unknown role names are rejected before any roster lookup.
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/members/"+requesterID.String()+"/role", ownerCSRF, http.StatusBadRequest, map[string]any{
			"role": "OVERLORD",
		})
		require.Equal(t, "bad_request", errEnv.Code)
	}

	// The owner must stay an administrator.
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/members/"+ownerID.String()+"/role", ownerCSRF, http.StatusConflict, map[string]any{
			"role": "MEMBER",
		})
		require.Equal(t, "conflict", errEnv.Code)
	}

	// A task assigned to the member blocks removal, with the live count.
	taskID := createTask(t, ownerClient, srv.URL, ownerCSRF, "Write onboarding docs", nil, &requesterID)
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodDelete, srv.URL+"/api/v1/members/"+requesterID.String(), ownerCSRF, http.StatusConflict, nil)
		require.Equal(t, "conflict", errEnv.Code)
		require.EqualValues(t, 1, errEnv.Details["assignedTasks"])
	}

	// Reassigning the task unblocks that check.
	doJSONExpectSuccess(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/tasks/"+taskID.String()+"/assignee", ownerCSRF, http.StatusOK, map[string]any{
		"assignee_id": ownerID,
	})

	// Leading a project blocks removal next.
	projectID := createProject(t, ownerClient, srv.URL, ownerCSRF, "Launch", requesterID)
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodDelete, srv.URL+"/api/v1/members/"+requesterID.String(), ownerCSRF, http.StatusConflict, nil)
		require.Equal(t, "conflict", errEnv.Code)
		require.EqualValues(t, 1, errEnv.Details["projectsLedByUser"])
	}

	// Becoming lead promoted the member; demoting them while they lead conflicts too.
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/members/"+requesterID.String()+"/role", ownerCSRF, http.StatusConflict, map[string]any{
			"role": "MEMBER",
		})
		require.Equal(t, "conflict", errEnv.Code)
		require.EqualValues(t, 1, errEnv.Details["projectsLedByUser"])
	}

	// Hand the project to the owner; the old lead stays on the roster, which
	// is the last removal blocker.
	doJSONExpectSuccess(t, ownerClient, http.MethodPatch, srv.URL+"/api/v1/projects/"+projectID.String(), ownerCSRF, http.StatusOK, map[string]any{
		"lead_id": ownerID,
	})
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodDelete, srv.URL+"/api/v1/members/"+requesterID.String(), ownerCSRF, http.StatusConflict, nil)
		require.Equal(t, "conflict", errEnv.Code)
		require.EqualValues(t, 1, errEnv.Details["projectMemberships"])
	}

	// Clear the project membership out of band and the removal goes through.
	_, err := pool.Exec(context.Background(), `DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, requesterID)
	require.NoError(t, err)
	doJSONExpectSuccess(t, ownerClient, http.MethodDelete, srv.URL+"/api/v1/members/"+requesterID.String(), ownerCSRF, http.StatusOK, nil)

	// The removed user has no organization and cannot switch back in.
	profile = getProfile(t, reqClient, srv.URL)
	require.Nil(t, profile.CurrentOrgID)
	require.Empty(t, profile.Organizations)
	{
		errEnv := doJSONExpectError(t, reqClient, http.MethodPost, srv.URL+"/api/v1/orgs/switch", reqCSRF, http.StatusForbidden, map[string]any{
			"org_id": orgID,
		})
		require.Equal(t, "forbidden", errEnv.Code)
	}

	// The owner cannot leave their own organization.
	{
		errEnv := doJSONExpectError(t, ownerClient, http.MethodPost, srv.URL+"/api/v1/orgs/leave", ownerCSRF, http.StatusConflict, nil)
		require.Equal(t, "conflict", errEnv.Code)
	}

	// The lifecycle leaves an audit trail.
	events := listAudit(t, ownerClient, srv.URL, orgID)
	actions := make(map[string]bool)
	for _, action := range events {
		actions[action] = true
	}
	require.True(t, actions["org.join_requested"], "missing org.join_requested audit event")
	require.True(t, actions["org.join_request_cancelled"], "missing org.join_request_cancelled audit event")
	require.True(t, actions["org.join_request_approved"], "missing org.join_request_approved audit event")
	require.True(t, actions["org.member_role_updated"], "missing org.member_role_updated audit event")
	require.True(t, actions["org.member_removed"], "missing org.member_removed audit event")
	require.True(t, actions["project.lead_reassigned"], "missing project.lead_reassigned audit event")
}

func TestE2E_SwitchOrganization(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := newTestServer(t, pool)

	client, csrf := newCSRFClient(t, srv.URL)
	signupAndLogin(t, client, srv.URL, csrf, "founder@example.com", "Founder", "password123")

	firstOrgID, _ := createOrg(t, client, srv.URL, csrf, "First Co")
	secondOrgID, _ := createOrg(t, client, srv.URL, csrf, "Second Co")

	// Creating an organization switches to it.
	profile := getProfile(t, client, srv.URL)
	require.NotNil(t, profile.CurrentOrgID)
	require.Equal(t, secondOrgID, *profile.CurrentOrgID)
	require.Len(t, profile.Organizations, 2)

	env := doJSONExpectSuccess(t, client, http.MethodPost, srv.URL+"/api/v1/orgs/switch", csrf, http.StatusOK, map[string]any{
		"org_id": firstOrgID,
	})
	var switched struct {
		OrgID uuid.UUID `json:"org_id"`
		Role  string    `json:"role"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &switched))
	require.Equal(t, firstOrgID, switched.OrgID)
	require.Equal(t, "ADMIN", switched.Role)

	profile = getProfile(t, client, srv.URL)
	require.Equal(t, firstOrgID, *profile.CurrentOrgID)
	require.NotNil(t, profile.CurrentRole)
	require.Equal(t, "ADMIN", *profile.CurrentRole)
}

func submitJoinRequest(t *testing.T, client *http.Client, baseURL, csrfToken, inviteCode string) uuid.UUID {
	t.Helper()

	env := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/member-requests", csrfToken, http.StatusCreated, map[string]any{
		"invite_code": inviteCode,
	})

	var parsed struct {
		Request struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))
	require.Equal(t, "pending", parsed.Request.Status)

	return parsed.Request.ID
}

func listPendingRequests(t *testing.T, client *http.Client, baseURL string) []orgs.PendingRequestInfo {
	t.Helper()

	env := getJSON(t, client, baseURL+"/api/v1/member-requests/pending")

	var parsed struct {
		Requests []orgs.PendingRequestInfo `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))

	return parsed.Requests
}

type profileView struct {
	CurrentOrgID  *uuid.UUID `json:"current_org_id"`
	CurrentRole   *string    `json:"current_role"`
	Organizations []struct {
		OrgID uuid.UUID `json:"org_id"`
		Role  string    `json:"role"`
	} `json:"organizations"`
}

func getProfile(t *testing.T, client *http.Client, baseURL string) profileView {
	t.Helper()

	env := getJSON(t, client, baseURL+"/api/v1/me")

	var parsed struct {
		User profileView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))

	return parsed.User
}

func listMembers(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID) []orgs.MemberInfo {
	t.Helper()

	env := getJSON(t, client, baseURL+"/api/v1/orgs/"+orgID.String()+"/members")

	var parsed struct {
		Members []orgs.MemberInfo `json:"members"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))

	return parsed.Members
}

func updateRole(t *testing.T, client *http.Client, baseURL, csrfToken string, userID uuid.UUID, role string) {
	t.Helper()

	doJSONExpectSuccess(t, client, http.MethodPatch, baseURL+"/api/v1/members/"+userID.String()+"/role", csrfToken, http.StatusOK, map[string]any{
		"role": role,
	})
}

func createTask(t *testing.T, client *http.Client, baseURL, csrfToken, title string, projectID, assigneeID *uuid.UUID) uuid.UUID {
	t.Helper()

	env := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/tasks", csrfToken, http.StatusCreated, map[string]any{
		"title":       title,
		"project_id":  projectID,
		"assignee_id": assigneeID,
	})

	var parsed struct {
		Task struct {
			ID uuid.UUID `json:"id"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))
	require.NotEqual(t, uuid.Nil, parsed.Task.ID)

	return parsed.Task.ID
}

func createProject(t *testing.T, client *http.Client, baseURL, csrfToken, name string, leadID uuid.UUID) uuid.UUID {
	t.Helper()

	env := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/projects", csrfToken, http.StatusCreated, map[string]any{
		"name":    name,
		"lead_id": leadID,
	})

	var parsed struct {
		Project struct {
			ID uuid.UUID `json:"id"`
		} `json:"project"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))
	require.NotEqual(t, uuid.Nil, parsed.Project.ID)

	return parsed.Project.ID
}

func listAudit(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID) []string {
	t.Helper()

	env := getJSON(t, client, baseURL+"/api/v1/orgs/"+orgID.String()+"/audit?limit=100")

	var parsed struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &parsed))

	actions := make([]string, len(parsed.Events))
	for i, ev := range parsed.Events {
		actions[i] = ev.Action
	}
	return actions
}
