package orgs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("admin")
	require.True(t, ok)
	require.Equal(t, RoleAdmin, role)

	role, ok = ParseRole("  Lead ")
	require.True(t, ok)
	require.Equal(t, RoleLead, role)

	role, ok = ParseRole("MEMBER")
	require.True(t, ok)
	require.Equal(t, RoleMember, role)

	_, ok = ParseRole("owner")
	require.False(t, ok)

	_, ok = ParseRole("")
	require.False(t, ok)
}

func TestOrgRole_CanManageRequests(t *testing.T) {
	require.True(t, RoleAdmin.CanManageRequests())
	require.True(t, RoleLead.CanManageRequests())
	require.False(t, RoleMember.CanManageRequests())
}

func TestNormalizeStatus(t *testing.T) {
	// Legacy roster rows have no status and must read as active.
	require.Equal(t, StatusActive, NormalizeStatus(nil))

	empty := ""
	require.Equal(t, StatusActive, NormalizeStatus(&empty))

	active := "active"
	require.Equal(t, StatusActive, NormalizeStatus(&active))

	pending := "pending"
	require.Equal(t, StatusPending, NormalizeStatus(&pending))

	// Unknown values fall back to active rather than locking the member out.
	garbage := "archived"
	require.Equal(t, StatusActive, NormalizeStatus(&garbage))
}
