package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Day is the unit fines accrue in.
const Day = 24 * time.Hour

// FineRecord is the penalty for one overdue loan. At most one unpaid fine
// exists per loan; the amount is fixed when the fine is issued.
type FineRecord struct {
	ID          string          `json:"id"`
	LoanID      string          `json:"loan_id"`
	MemberID    string          `json:"member_id"`
	ItemID      string          `json:"item_id"`
	Amount      decimal.Decimal `json:"amount"`
	DaysOverdue int             `json:"days_overdue"`
	DueDate     time.Time       `json:"due_date"`
	IsPaid      bool            `json:"is_paid"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FineQuote is the result of a fine calculation.
type FineQuote struct {
	Amount      decimal.Decimal `json:"amount"`
	DaysOverdue int             `json:"days_overdue"`
}

// IsZero reports whether no fine is owed.
func (q FineQuote) IsZero() bool {
	return q.DaysOverdue <= 0
}

// CalculateFine returns floor((now - due) / day) days times dailyRate.
// Loans not yet a full day late owe nothing.
func CalculateFine(dueDate time.Time, dailyRate decimal.Decimal, now time.Time) FineQuote {
	days := int(now.Sub(dueDate) / Day)
	if days <= 0 {
		return FineQuote{Amount: decimal.Zero}
	}
	return FineQuote{
		Amount:      dailyRate.Mul(decimal.NewFromInt(int64(days))),
		DaysOverdue: days,
	}
}

// NewFine issues a fine for loan using quote.
func NewFine(id string, loan *LoanRecord, quote FineQuote, now time.Time) *FineRecord {
	f := &FineRecord{
		ID:          id,
		LoanID:      loan.ID,
		MemberID:    loan.MemberID,
		ItemID:      loan.ItemID,
		Amount:      quote.Amount,
		DaysOverdue: quote.DaysOverdue,
		CreatedAt:   now,
	}
	if loan.DueDate != nil {
		f.DueDate = *loan.DueDate
	}
	return f
}

// MarkPaid settles the fine.
func (f *FineRecord) MarkPaid(now time.Time) {
	f.IsPaid = true
	f.PaidAt = &now
}
