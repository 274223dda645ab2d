package orgs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrgRole represents a user's role within an organization
type OrgRole string

const (
	RoleAdmin  OrgRole = "ADMIN"
	RoleLead   OrgRole = "LEAD"
	RoleMember OrgRole = "MEMBER"
)

// IsValid returns true if the role is one of the known organization roles
func (r OrgRole) IsValid() bool {
	return r == RoleAdmin || r == RoleLead || r == RoleMember
}

// CanManageRequests returns true if the role may list and process join requests
func (r OrgRole) CanManageRequests() bool {
	return r == RoleAdmin || r == RoleLead
}

// CanAssignTasks reports whether the role may create tasks and move them
// between assignees.
func (r OrgRole) CanAssignTasks() bool {
	return r == RoleAdmin || r == RoleLead
}

// ParseRole normalizes a role name from a request payload.
// Returns the role and whether it was recognized.
func ParseRole(s string) (OrgRole, bool) {
	role := OrgRole(strings.ToUpper(strings.TrimSpace(s)))
	return role, role.IsValid()
}

// MembershipStatus represents the state of a roster entry
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusPending MembershipStatus = "pending"
)

// NormalizeStatus maps a raw status column value to an explicit status.
// Legacy roster rows predate the status column and must read as active.
func NormalizeStatus(raw *string) MembershipStatus {
	if raw == nil || *raw == "" {
		return StatusActive
	}
	if MembershipStatus(*raw) == StatusPending {
		return StatusPending
	}
	return StatusActive
}

// Org represents an organization in the system
type Org struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	OwnerUserID uuid.UUID `db:"owner_user_id"`
	InviteCode  string    `db:"invite_code"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Membership represents a user's roster entry in an organization
type Membership struct {
	OrgID    uuid.UUID        `db:"org_id"`
	UserID   uuid.UUID        `db:"user_id"`
	Role     OrgRole          `db:"role"`
	Status   MembershipStatus `db:"status"`
	JoinedAt time.Time        `db:"joined_at"`
}

// OrgWithRole combines org information with the user's role
type OrgWithRole struct {
	Org
	Role      OrgRole `db:"role"`
	IsCurrent bool    `db:"is_current"`
}

// MemberInfo represents a member of an organization with their details
type MemberInfo struct {
	UserID   uuid.UUID        `db:"user_id" json:"user_id"`
	Email    string           `db:"email" json:"email"`
	Name     string           `db:"name" json:"name"`
	Role     OrgRole          `db:"role" json:"role"`
	Status   MembershipStatus `db:"status" json:"status"`
	JoinedAt time.Time        `db:"joined_at" json:"joined_at"`
}

// RoleChange reports the outcome of a role transition for audit/UX.
type RoleChange struct {
	PreviousRole OrgRole `json:"previous_role"`
	NewRole      OrgRole `json:"new_role"`
}
