package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account row. Role and CurrentOrgID are denormalized
// caches of the membership roster; the roster is authoritative.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	CurrentOrgID *uuid.UUID `json:"current_org_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Profile is the /me view: the account plus the derived membership list.
type Profile struct {
	ID            uuid.UUID     `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	CurrentOrgID  *uuid.UUID    `json:"current_org_id"`
	CurrentRole   *string       `json:"current_role"`
	Organizations []Affiliation `json:"organizations"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Affiliation is one entry of the derived membership view.
type Affiliation struct {
	OrgID     uuid.UUID `json:"org_id"`
	OrgName   string    `json:"org_name"`
	Role      string    `json:"role"`
	IsCurrent bool      `json:"is_current"`
	JoinedAt  time.Time `json:"joined_at"`
}
