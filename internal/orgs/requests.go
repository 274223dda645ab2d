package orgs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInviteCodeNotFound = errors.New("no organization matches this invite code")
	ErrAlreadyMember      = errors.New("user is already an active member of this organization")
	ErrRequestAlreadyOpen = errors.New("a pending join request already exists for this organization")
	ErrRequestNotFound    = errors.New("join request not found")
	ErrRequestNotPending  = errors.New("join request is no longer pending")
	ErrRequestWrongOrg    = errors.New("join request belongs to another organization")
)

// RequestStatus represents the state of a join request
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// MemberRequest represents a user's pending intent to join an organization.
// Approval supersedes the record with an active roster entry; rejection
// retires the record in place; cancellation deletes it.
type MemberRequest struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	OrgID       uuid.UUID     `db:"org_id" json:"org_id"`
	UserID      uuid.UUID     `db:"user_id" json:"user_id"`
	InviteCode  string        `db:"invite_code" json:"invite_code"`
	Status      RequestStatus `db:"status" json:"status"`
	RequestedAt time.Time     `db:"requested_at" json:"requested_at"`
	ProcessedAt *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy *uuid.UUID    `db:"processed_by" json:"processed_by,omitempty"`
}

// PendingRequestInfo is a pending request joined with requester details for
// the review queue.
type PendingRequestInfo struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Email       string    `db:"email" json:"email"`
	Name        string    `db:"name" json:"name"`
	RequestedAt time.Time `db:"requested_at" json:"requested_at"`
}
