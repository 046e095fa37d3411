package domain

import (
	"fmt"
	"time"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

// LoanStatus is the lifecycle state of a loan record.
type LoanStatus string

const (
	LoanStatusQueued          LoanStatus = "queued"
	LoanStatusReserved        LoanStatus = "reserved"
	LoanStatusBorrowed        LoanStatus = "borrowed"
	LoanStatusReturnRequested LoanStatus = "return_requested"
	LoanStatusReturned        LoanStatus = "returned"
	LoanStatusOverdue         LoanStatus = "overdue"
	LoanStatusExpired         LoanStatus = "expired"
)

// loanTransitions is the complete set of allowed status changes.
// Creation (queued, reserved) has no prior state and is not listed.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusQueued:          {LoanStatusReserved, LoanStatusExpired},
	LoanStatusReserved:        {LoanStatusBorrowed, LoanStatusExpired},
	LoanStatusBorrowed:        {LoanStatusReturnRequested, LoanStatusOverdue},
	LoanStatusOverdue:         {LoanStatusReturnRequested},
	LoanStatusReturnRequested: {LoanStatusReturned},
}

// Valid reports whether s is a known status.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusQueued, LoanStatusReserved, LoanStatusBorrowed,
		LoanStatusReturnRequested, LoanStatusReturned, LoanStatusOverdue, LoanStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition table allows s -> next.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsUnit reports whether a record in this status consumes an inventory unit.
func (s LoanStatus) HoldsUnit() bool {
	switch s {
	case LoanStatusReserved, LoanStatusBorrowed, LoanStatusOverdue, LoanStatusReturnRequested:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s LoanStatus) IsTerminal() bool {
	return len(loanTransitions[s]) == 0
}

// LoanRecord is one lending transaction between a member and a catalog item.
//
// Field invariant: QueuePosition is set exactly when the record is queued,
// ReservationExpiry is set exactly when it is reserved. HoldUntil is only
// meaningful on a reserved record that was promoted from the queue.
type LoanRecord struct {
	ID       string     `json:"id"`
	MemberID string     `json:"member_id"`
	ItemID   string     `json:"item_id"`
	Status   LoanStatus `json:"status"`

	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty"`
	HoldUntil         *time.Time `json:"hold_until,omitempty"`
	BorrowDate        *time.Time `json:"borrow_date,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	ReturnDate        *time.Time `json:"return_date,omitempty"`

	QueuePosition *int `json:"queue_position,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReservedLoan creates a hold on a unit that was just taken from inventory.
func NewReservedLoan(id, memberID, itemID string, now time.Time, window time.Duration) *LoanRecord {
	expiry := now.Add(window)
	return &LoanRecord{
		ID:                id,
		MemberID:          memberID,
		ItemID:            itemID,
		Status:            LoanStatusReserved,
		ReservationExpiry: &expiry,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewQueuedLoan creates a waiting entry. The store assigns the position.
func NewQueuedLoan(id, memberID, itemID string, now time.Time) *LoanRecord {
	return &LoanRecord{
		ID:        id,
		MemberID:  memberID,
		ItemID:    itemID,
		Status:    LoanStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the status and the queued/reserved field invariant.
func (l *LoanRecord) Validate() error {
	if !l.Status.Valid() {
		return domainerrors.Validationf("unknown loan status %q", l.Status)
	}
	queued := l.QueuePosition != nil
	if queued && *l.QueuePosition < 1 {
		return domainerrors.Validationf("loan %s: queue position %d must be at least 1", l.ID, *l.QueuePosition)
	}
	if queued != (l.Status == LoanStatusQueued) {
		return domainerrors.Validationf("loan %s: queue position present=%t with status %s", l.ID, queued, l.Status)
	}
	reserved := l.ReservationExpiry != nil
	if reserved != (l.Status == LoanStatusReserved) {
		return domainerrors.Validationf("loan %s: reservation expiry present=%t with status %s", l.ID, reserved, l.Status)
	}
	return nil
}

// Transition moves the record to next if the transition table allows it.
// Field changes belonging to specific transitions live in the dedicated
// methods below, which all route through here.
func (l *LoanRecord) Transition(next LoanStatus, now time.Time) error {
	if !l.Status.CanTransitionTo(next) {
		return InvalidTransition(l.ID, l.Status, next)
	}
	l.Status = next
	l.UpdatedAt = now
	return nil
}

// InvalidTransition builds the policy error for a rejected status change.
func InvalidTransition(loanID string, from, to LoanStatus) error {
	return domainerrors.PolicyViolation(domainerrors.ReasonInvalidTransition,
		fmt.Sprintf("loan %s cannot move from %s to %s", loanID, from, to))
}

// Promote converts a queue entry into a timed hold.
func (l *LoanRecord) Promote(now time.Time, holdWindow, reservationWindow time.Duration) error {
	if err := l.Transition(LoanStatusReserved, now); err != nil {
		return err
	}
	holdUntil := now.Add(holdWindow)
	expiry := now.Add(reservationWindow)
	l.HoldUntil = &holdUntil
	l.ReservationExpiry = &expiry
	l.QueuePosition = nil
	return nil
}

// Collect hands the reserved unit to the member for loanPeriod.
func (l *LoanRecord) Collect(now time.Time, loanPeriod time.Duration) error {
	if l.Status == LoanStatusReserved && l.ReservationExpired(now) {
		return domainerrors.PolicyViolationf(domainerrors.ReasonReservationExpired,
			"reservation for loan %s expired at %s", l.ID, l.ReservationExpiry.Format(time.RFC3339))
	}
	if err := l.Transition(LoanStatusBorrowed, now); err != nil {
		return err
	}
	borrowed := now
	due := now.Add(loanPeriod)
	l.BorrowDate = &borrowed
	l.DueDate = &due
	l.ReservationExpiry = nil
	l.HoldUntil = nil
	return nil
}

// RequestReturn marks a borrowed or overdue loan as awaiting check-in.
func (l *LoanRecord) RequestReturn(now time.Time) error {
	return l.Transition(LoanStatusReturnRequested, now)
}

// CompleteReturn closes the loan.
func (l *LoanRecord) CompleteReturn(now time.Time) error {
	if err := l.Transition(LoanStatusReturned, now); err != nil {
		return err
	}
	returned := now
	l.ReturnDate = &returned
	return nil
}

// MarkOverdue flags a borrowed loan whose due date has passed.
func (l *LoanRecord) MarkOverdue(now time.Time) error {
	return l.Transition(LoanStatusOverdue, now)
}

// ReservationExpired reports whether the hold deadline has passed. The
// deadline itself is still collectable, matching the expiry sweep.
func (l *LoanRecord) ReservationExpired(now time.Time) bool {
	return l.ReservationExpiry != nil && now.After(*l.ReservationExpiry)
}

// IsActiveReservation reports whether the record is an unexpired hold.
func (l *LoanRecord) IsActiveReservation(now time.Time) bool {
	return l.Status == LoanStatusReserved && !l.ReservationExpired(now)
}

// IsActiveLoan reports whether the member currently has the unit.
func (l *LoanRecord) IsActiveLoan() bool {
	return l.Status == LoanStatusBorrowed || l.Status == LoanStatusOverdue
}

// IsPastDue reports whether an active loan is past its due date.
func (l *LoanRecord) IsPastDue(now time.Time) bool {
	return l.IsActiveLoan() && l.DueDate != nil && l.DueDate.Before(now)
}

// IsOwnedBy reports whether memberID made the request.
func (l *LoanRecord) IsOwnedBy(memberID string) bool {
	return l.MemberID == memberID
}
