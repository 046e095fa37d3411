package domain

import "time"

// Role represents the member's permission level.
type Role string

const (
	// RoleAdmin may confirm collections and returns and act on any loan.
	RoleAdmin Role = "admin"
	// RoleMember may borrow and manage their own loans.
	RoleMember Role = "member"
)

// Standing is the membership state that gates borrowing.
type Standing string

const (
	StandingPending   Standing = "pending"
	StandingApproved  Standing = "approved"
	StandingSuspended Standing = "suspended"
)

// Member is a library patron. HasOutstandingFine is a denormalized flag
// recomputed by the fine engine from the unpaid fine records.
type Member struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Role               Role      `json:"role"`
	Standing           Standing  `json:"standing"`
	HasOutstandingFine bool      `json:"has_outstanding_fine"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsAdmin returns true if the member has administrative privileges.
func (m *Member) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// IsApproved returns true if the membership allows new loan requests.
func (m *Member) IsApproved() bool {
	return m.Standing == StandingApproved
}
