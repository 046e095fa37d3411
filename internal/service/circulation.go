// Package service implements the loan lifecycle: admission, reservation,
// queueing, collection, returns, fines and the maintenance sweeps.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/domain"
	domainerrors "github.com/circulate/circulation-server/internal/errors"
	"github.com/circulate/circulation-server/internal/id"
	"github.com/circulate/circulation-server/internal/store"
)

// Policy holds the circulation rules.
type Policy struct {
	ReservationWindow time.Duration
	QueueHoldWindow   time.Duration
	DefaultLoanDays   int
	MaxActiveLoans    int
	DailyFineRate     decimal.Decimal
	DueSoonWindow     time.Duration
}

// DefaultPolicy returns the standard lending rules.
func DefaultPolicy() Policy {
	return Policy{
		ReservationWindow: 24 * time.Hour,
		QueueHoldWindow:   48 * time.Hour,
		DefaultLoanDays:   14,
		MaxActiveLoans:    3,
		DailyFineRate:     decimal.NewFromInt(10),
		DueSoonWindow:     3 * domain.Day,
	}
}

// Actor is the member performing an operation.
type Actor struct {
	MemberID string
	IsAdmin  bool
}

// may reports whether the actor can act on loan.
func (a Actor) may(loan *domain.LoanRecord) bool {
	return a.IsAdmin || loan.IsOwnedBy(a.MemberID)
}

// LoanResult is the outcome of a loan request.
type LoanResult struct {
	Loan   *domain.LoanRecord
	Queued bool
}

// ReturnResult is the outcome of a confirmed return.
type ReturnResult struct {
	Loan *domain.LoanRecord
	// Promoted is the waiter who received the unit, if any.
	Promoted *domain.LoanRecord
	// AvailableCopies is the item's counter after the hand-off, or -1 if
	// it could not be read.
	AvailableCopies int
}

// Availability is the read model behind an item's availability page.
type Availability struct {
	Item  *domain.CatalogItem
	Queue []*domain.LoanRecord
}

// CirculationService runs the member- and staff-facing loan operations.
type CirculationService struct {
	store    store.Store
	ledger   *InventoryLedger
	queue    *QueueManager
	fines    *FineEngine
	notifier Notifier
	clock    clock.Clock
	policy   Policy
	logger   *slog.Logger
	handoff  *handoff
}

// NewCirculationService creates the circulation service.
func NewCirculationService(
	s store.Store,
	ledger *InventoryLedger,
	queue *QueueManager,
	fines *FineEngine,
	notifier Notifier,
	clk clock.Clock,
	policy Policy,
	logger *slog.Logger,
) *CirculationService {
	return &CirculationService{
		store:    s,
		ledger:   ledger,
		queue:    queue,
		fines:    fines,
		notifier: notifier,
		clock:    clk,
		policy:   policy,
		logger:   logger,
		handoff:  &handoff{ledger: ledger, queue: queue, notifier: notifier, logger: logger},
	}
}

// RequestLoan reserves a free copy of itemID for memberID, or queues the
// member when every copy is out.
func (s *CirculationService) RequestLoan(ctx context.Context, memberID, itemID string) (*LoanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, translate(err, "get member")
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, translate(err, "get item")
	}

	now := s.clock.Now()
	if err := s.admit(ctx, member, itemID, now); err != nil {
		s.logger.Info("loan request rejected",
			slog.String("member_id", memberID),
			slog.String("item_id", itemID),
			slog.String("reason", string(domainerrors.ReasonOf(err))))
		return nil, err
	}

	loanID, err := id.Generate(id.PrefixLoan)
	if err != nil {
		return nil, fmt.Errorf("generate loan ID: %w", err)
	}

	reserved, err := s.ledger.TryReserve(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if !reserved {
		loan := domain.NewQueuedLoan(loanID, memberID, itemID, now)
		if err := s.queue.Join(ctx, loan); err != nil {
			return nil, err
		}
		return &LoanResult{Loan: loan, Queued: true}, nil
	}

	loan := domain.NewReservedLoan(loanID, memberID, itemID, now, s.policy.ReservationWindow)
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		// The unit was taken for a record that does not exist; give it back.
		if relErr := s.ledger.Release(ctx, itemID); relErr != nil {
			s.logger.Error("failed to release unit after rejected reservation",
				slog.String("item_id", itemID),
				slog.Any("error", relErr))
		}
		return nil, translate(err, "create reservation")
	}

	s.logger.Info("loan reserved",
		slog.String("loan_id", loan.ID),
		slog.String("member_id", memberID),
		slog.String("item_id", itemID),
		slog.Time("reservation_expiry", *loan.ReservationExpiry))

	return &LoanResult{Loan: loan}, nil
}

// admit runs the admission checks in order and stops at the first failure.
func (s *CirculationService) admit(ctx context.Context, member *domain.Member, itemID string, now time.Time) error {
	if !member.IsApproved() {
		return domainerrors.PolicyViolationf(domainerrors.ReasonMembershipNotApproved,
			"membership is %s, not approved", member.Standing)
	}

	owes := member.HasOutstandingFine
	if !owes {
		unpaid, err := s.fines.HasUnpaidFines(ctx, member.ID)
		if err != nil {
			return err
		}
		owes = unpaid
	}
	if owes {
		return domainerrors.PolicyViolation(domainerrors.ReasonOutstandingFines,
			"outstanding fines must be paid before borrowing")
	}

	open, err := s.store.ListLoans(ctx, store.LoanFilter{
		MemberID: member.ID,
		Statuses: []domain.LoanStatus{
			domain.LoanStatusQueued, domain.LoanStatusReserved,
			domain.LoanStatusBorrowed, domain.LoanStatusOverdue,
		},
	})
	if err != nil {
		return translate(err, "list member loans")
	}

	for _, l := range open {
		if l.IsPastDue(now) {
			return domainerrors.PolicyViolationf(domainerrors.ReasonOverdueItems,
				"loan %s is past due", l.ID)
		}
	}

	active := 0
	for _, l := range open {
		if l.IsActiveLoan() || l.IsActiveReservation(now) {
			active++
		}
	}
	if active >= s.policy.MaxActiveLoans {
		return domainerrors.PolicyViolationf(domainerrors.ReasonLoanLimitReached,
			"%d of %d loans and reservations in use", active, s.policy.MaxActiveLoans)
	}

	for _, l := range open {
		if l.ItemID != itemID {
			continue
		}
		if l.Status == domain.LoanStatusQueued || l.Status == domain.LoanStatusReserved {
			return domainerrors.PolicyViolationf(domainerrors.ReasonDuplicateRequest,
				"loan %s is already %s for this item", l.ID, l.Status)
		}
	}

	return nil
}

// ConfirmCollection hands a reserved unit to its member. A zero period uses
// the default loan length.
func (s *CirculationService) ConfirmCollection(ctx context.Context, loanID string, loanPeriodDays int) (*domain.LoanRecord, error) {
	if loanPeriodDays < 0 {
		return nil, domainerrors.Validationf("loan period must not be negative, got %d", loanPeriodDays)
	}
	if loanPeriodDays == 0 {
		loanPeriodDays = s.policy.DefaultLoanDays
	}

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, translate(err, "get loan")
	}

	now := s.clock.Now()
	from := loan.Status
	if err := loan.Collect(now, time.Duration(loanPeriodDays)*domain.Day); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLoan(ctx, loan, from); err != nil {
		return nil, translate(err, "collect loan")
	}

	s.logger.Info("loan collected",
		slog.String("loan_id", loan.ID),
		slog.String("member_id", loan.MemberID),
		slog.Time("due_date", *loan.DueDate))

	s.notifier.Notify(ctx, domain.NewNotification(domain.NotifyBorrowConfirmed, loan,
		fmt.Sprintf("Enjoy your loan. Please return it by %s.", loan.DueDate.Format(time.DateOnly)), now))

	return loan, nil
}

// RequestReturn records that the member is bringing a borrowed or overdue
// unit back.
func (s *CirculationService) RequestReturn(ctx context.Context, loanID string, actor Actor) (*domain.LoanRecord, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, translate(err, "get loan")
	}
	if !actor.may(loan) {
		return nil, domainerrors.PolicyViolationf(domainerrors.ReasonNotOwner,
			"loan %s belongs to another member", loanID)
	}

	now := s.clock.Now()
	from := loan.Status
	if err := loan.RequestReturn(now); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLoan(ctx, loan, from); err != nil {
		return nil, translate(err, "request return")
	}

	s.logger.Info("return requested",
		slog.String("loan_id", loan.ID),
		slog.String("member_id", loan.MemberID),
		slog.String("from", string(from)))

	s.notifier.Notify(ctx, domain.NewNotification(domain.NotifyReturnRequested, loan,
		"Your return request was received. Staff will confirm it at the desk.", now))

	return loan, nil
}

// ConfirmReturn closes the loan and passes the unit to the next waiter, or
// back to the shelf when the queue is empty.
func (s *CirculationService) ConfirmReturn(ctx context.Context, loanID string) (*ReturnResult, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, translate(err, "get loan")
	}

	now := s.clock.Now()
	from := loan.Status
	if err := loan.CompleteReturn(now); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLoan(ctx, loan, from); err != nil {
		return nil, translate(err, "confirm return")
	}

	promoted := s.handoff.transfer(ctx, loan.ItemID, now)

	result := &ReturnResult{Loan: loan, Promoted: promoted, AvailableCopies: -1}
	if item, err := s.store.GetItem(ctx, loan.ItemID); err == nil {
		result.AvailableCopies = item.AvailableCopies
	}

	log := s.logger.With(slog.String("loan_id", loan.ID), slog.String("item_id", loan.ItemID))
	if promoted != nil {
		log.Info("return confirmed, unit passed to queue", slog.String("promoted_loan_id", promoted.ID))
	} else {
		log.Info("return confirmed, unit released", slog.Int("available_copies", result.AvailableCopies))
	}

	s.notifier.Notify(ctx, domain.NewNotification(domain.NotifyReturnConfirmed, loan,
		"Your return is confirmed. Thank you.", now))

	return result, nil
}

// CancelReservation withdraws an unexpired hold and frees its unit.
func (s *CirculationService) CancelReservation(ctx context.Context, loanID string, actor Actor) error {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return translate(err, "get loan")
	}
	if !actor.may(loan) {
		return domainerrors.PolicyViolationf(domainerrors.ReasonNotOwner,
			"loan %s belongs to another member", loanID)
	}

	now := s.clock.Now()
	if loan.Status != domain.LoanStatusReserved {
		return domainerrors.PolicyViolationf(domainerrors.ReasonInvalidTransition,
			"loan %s is %s; only reserved loans can be cancelled", loanID, loan.Status)
	}
	if loan.ReservationExpired(now) {
		return domainerrors.PolicyViolationf(domainerrors.ReasonReservationExpired,
			"reservation for loan %s already expired", loanID)
	}

	if err := s.store.DeleteLoan(ctx, loan.ID, domain.LoanStatusReserved); err != nil {
		return translate(err, "cancel reservation")
	}

	promoted := s.handoff.transfer(ctx, loan.ItemID, now)

	attrs := []any{slog.String("loan_id", loan.ID), slog.String("member_id", loan.MemberID)}
	if promoted != nil {
		attrs = append(attrs, slog.String("promoted_loan_id", promoted.ID))
	}
	s.logger.Info("reservation cancelled", attrs...)

	s.notifier.Notify(ctx, domain.NewNotification(domain.NotifyReservationCancelled, loan,
		"Your reservation was cancelled.", now))

	return nil
}

// GetLoan returns a loan visible to actor.
func (s *CirculationService) GetLoan(ctx context.Context, loanID string, actor Actor) (*domain.LoanRecord, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, translate(err, "get loan")
	}
	if !actor.may(loan) {
		return nil, domainerrors.Forbidden("loan belongs to another member")
	}
	return loan, nil
}

// ListMemberLoans returns every loan record of memberID.
func (s *CirculationService) ListMemberLoans(ctx context.Context, memberID string, actor Actor) ([]*domain.LoanRecord, error) {
	if !actor.IsAdmin && actor.MemberID != memberID {
		return nil, domainerrors.Forbidden("cannot list another member's loans")
	}
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return nil, translate(err, "get member")
	}
	loans, err := s.store.ListLoans(ctx, store.LoanFilter{MemberID: memberID})
	if err != nil {
		return nil, translate(err, "list loans")
	}
	return loans, nil
}

// ListMemberFines returns the fines of memberID.
func (s *CirculationService) ListMemberFines(ctx context.Context, memberID string, actor Actor) ([]*domain.FineRecord, error) {
	if !actor.IsAdmin && actor.MemberID != memberID {
		return nil, domainerrors.Forbidden("cannot list another member's fines")
	}
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return nil, translate(err, "get member")
	}
	return s.fines.ListMemberFines(ctx, memberID)
}

// PayFine settles a fine. Staff only.
func (s *CirculationService) PayFine(ctx context.Context, fineID string) (*domain.FineRecord, error) {
	return s.fines.PayFine(ctx, fineID, s.clock.Now())
}

// ItemAvailability returns the item's counters and its waiting list.
func (s *CirculationService) ItemAvailability(ctx context.Context, itemID string) (*Availability, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, translate(err, "get item")
	}
	queue, err := s.queue.Queue(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &Availability{Item: item, Queue: queue}, nil
}

// ResolveActor looks up the member behind a request.
func (s *CirculationService) ResolveActor(ctx context.Context, memberID string) (Actor, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		if isNotFound(err) {
			return Actor{}, domainerrors.Unauthorized("unknown member")
		}
		return Actor{}, translate(err, "get member")
	}
	return Actor{MemberID: member.ID, IsAdmin: member.IsAdmin()}, nil
}
