// Package store defines the persistence interfaces for the circulation server.
package store

import (
	"context"
	"time"

	"github.com/circulate/circulation-server/internal/domain"
)

// InventoryStore holds the per-item copy counters. Both operations are single
// conditional statements; they report false instead of going out of bounds.
type InventoryStore interface {
	// DecrementAvailable takes one unit iff available_copies > 0.
	DecrementAvailable(ctx context.Context, itemID string) (bool, error)
	// IncrementAvailable returns one unit iff available_copies < total_copies.
	IncrementAvailable(ctx context.Context, itemID string) (bool, error)
}

// ItemStore manages catalog items.
type ItemStore interface {
	CreateItem(ctx context.Context, item *domain.CatalogItem) error
	GetItem(ctx context.Context, id string) (*domain.CatalogItem, error)
	ListItems(ctx context.Context) ([]*domain.CatalogItem, error)
	// ListItemsWithStrandedQueue returns items that have a free copy and a
	// non-empty queue at the same time.
	ListItemsWithStrandedQueue(ctx context.Context) ([]*domain.CatalogItem, error)
}

// MemberStore manages library members.
type MemberStore interface {
	CreateMember(ctx context.Context, member *domain.Member) error
	GetMember(ctx context.Context, id string) (*domain.Member, error)
	SetOutstandingFine(ctx context.Context, memberID string, outstanding bool) error
}

// LoanFilter narrows ListLoans. Zero fields are ignored.
type LoanFilter struct {
	MemberID      string
	ItemID        string
	Statuses      []domain.LoanStatus
	DueBefore     time.Time // due_date < DueBefore
	DueAfter      time.Time // due_date > DueAfter
	ExpiresBefore time.Time // reservation_expiry < ExpiresBefore
	Limit         uint
}

// LoanStore manages loan records. Status changes are compare-and-swap on the
// prior status and fail with ErrStaleState when another writer got there first.
type LoanStore interface {
	// CreateLoan inserts a reserved record. A second open request by the same
	// member for the same item fails with ErrAlreadyExists.
	CreateLoan(ctx context.Context, loan *domain.LoanRecord) error
	GetLoan(ctx context.Context, id string) (*domain.LoanRecord, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*domain.LoanRecord, error)
	// UpdateLoan persists every mutable field of loan iff its stored status is from.
	UpdateLoan(ctx context.Context, loan *domain.LoanRecord, from domain.LoanStatus) error
	// DeleteLoan removes the record iff its stored status is status.
	DeleteLoan(ctx context.Context, id string, status domain.LoanStatus) error
	// MarkOverdue moves every borrowed loan due before now to overdue and
	// returns the records it changed.
	MarkOverdue(ctx context.Context, now time.Time) ([]*domain.LoanRecord, error)
}

// QueueStore manages the per-item waiting lists.
type QueueStore interface {
	// Enqueue inserts a queued record at the tail, assigning its position in
	// the same statement.
	Enqueue(ctx context.Context, loan *domain.LoanRecord) error
	// PromoteHead converts the lowest-positioned entry into a reserved hold and
	// closes the gap behind it. Returns nil, nil when nobody is waiting.
	PromoteHead(ctx context.Context, itemID string, now time.Time, holdWindow, reservationWindow time.Duration) (*domain.LoanRecord, error)
	ListQueue(ctx context.Context, itemID string) ([]*domain.LoanRecord, error)
}

// FineStore manages fine records.
type FineStore interface {
	// CreateFine inserts fine unless its loan already has an unpaid fine, in
	// which case it returns false.
	CreateFine(ctx context.Context, fine *domain.FineRecord) (bool, error)
	GetFine(ctx context.Context, id string) (*domain.FineRecord, error)
	ListMemberFines(ctx context.Context, memberID string) ([]*domain.FineRecord, error)
	// MarkFinePaid settles an unpaid fine. Paying twice fails with ErrStaleState.
	MarkFinePaid(ctx context.Context, id string, now time.Time) error
	CountUnpaidFines(ctx context.Context, memberID string) (int, error)
	// ListOverdueWithoutFine returns overdue loans lacking an unpaid fine.
	ListOverdueWithoutFine(ctx context.Context) ([]*domain.LoanRecord, error)
}

// Store is the full persistence surface.
type Store interface {
	InventoryStore
	ItemStore
	MemberStore
	LoanStore
	QueueStore
	FineStore

	Close() error
}
