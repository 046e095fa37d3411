package domain

import "time"

// NotificationKind identifies a member-visible lifecycle event.
type NotificationKind string

const (
	NotifyBorrowConfirmed      NotificationKind = "borrow_confirmed"
	NotifyReturnRequested      NotificationKind = "return_requested"
	NotifyReturnConfirmed      NotificationKind = "return_confirmed"
	NotifyReservationCancelled NotificationKind = "reservation_cancelled"
	NotifyBookAvailable        NotificationKind = "book_available"
	NotifyDueSoon              NotificationKind = "due_soon"
	NotifyOverdue              NotificationKind = "overdue"
)

// Notification is handed to the dispatcher after a transition commits.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	MemberID   string           `json:"member_id"`
	LoanID     string           `json:"loan_id"`
	ItemID     string           `json:"item_id"`
	Message    string           `json:"message"`
	DueDate    *time.Time       `json:"due_date,omitempty"`
	HoldUntil  *time.Time       `json:"hold_until,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewNotification builds a notification about loan.
func NewNotification(kind NotificationKind, loan *LoanRecord, message string, now time.Time) Notification {
	return Notification{
		Kind:       kind,
		MemberID:   loan.MemberID,
		LoanID:     loan.ID,
		ItemID:     loan.ItemID,
		Message:    message,
		DueDate:    loan.DueDate,
		HoldUntil:  loan.HoldUntil,
		ExpiresAt:  loan.ReservationExpiry,
		OccurredAt: now,
	}
}
