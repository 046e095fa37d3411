package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/id"
	"github.com/circulate/circulation-server/internal/store"
)

// FineStore is what the fine engine needs from persistence.
type FineStore interface {
	store.FineStore
	SetOutstandingFine(ctx context.Context, memberID string, outstanding bool) error
}

// FineRunResult counts the outcome of one IssueFines pass.
type FineRunResult struct {
	Created int
	Skipped int // less than a full day late, or fined concurrently
	Failed  int
}

// FineEngine issues fines for overdue loans and keeps each member's
// outstanding-fine flag in step with their unpaid fines.
type FineEngine struct {
	store     FineStore
	dailyRate decimal.Decimal
	logger    *slog.Logger
}

// NewFineEngine creates a fine engine charging dailyRate per full day.
func NewFineEngine(s FineStore, dailyRate decimal.Decimal, logger *slog.Logger) *FineEngine {
	return &FineEngine{store: s, dailyRate: dailyRate, logger: logger}
}

// Quote computes what loan would owe at now.
func (e *FineEngine) Quote(loan *domain.LoanRecord, now time.Time) domain.FineQuote {
	if loan.DueDate == nil {
		return domain.FineQuote{Amount: decimal.Zero}
	}
	return domain.CalculateFine(*loan.DueDate, e.dailyRate, now)
}

// IssueFines fines every overdue loan that has no unpaid fine yet. A failure
// on one loan is logged and counted; the rest of the batch still runs.
func (e *FineEngine) IssueFines(ctx context.Context, now time.Time) (FineRunResult, error) {
	var res FineRunResult

	loans, err := e.store.ListOverdueWithoutFine(ctx)
	if err != nil {
		return res, fmt.Errorf("list overdue loans: %w", err)
	}

	affected := make(map[string]struct{})
	for _, loan := range loans {
		quote := e.Quote(loan, now)
		if quote.IsZero() {
			res.Skipped++
			continue
		}

		fineID, err := id.Generate(id.PrefixFine)
		if err != nil {
			res.Failed++
			e.logger.Error("failed to generate fine id", slog.String("loan_id", loan.ID), slog.Any("error", err))
			continue
		}

		created, err := e.store.CreateFine(ctx, domain.NewFine(fineID, loan, quote, now))
		if err != nil {
			res.Failed++
			e.logger.Error("failed to create fine",
				slog.String("loan_id", loan.ID),
				slog.String("member_id", loan.MemberID),
				slog.Any("error", err))
			continue
		}
		if !created {
			res.Skipped++
			continue
		}

		res.Created++
		affected[loan.MemberID] = struct{}{}
		e.logger.Info("fine issued",
			slog.String("fine_id", fineID),
			slog.String("loan_id", loan.ID),
			slog.String("member_id", loan.MemberID),
			slog.String("amount", quote.Amount.String()),
			slog.Int("days_overdue", quote.DaysOverdue))
	}

	for memberID := range affected {
		if err := e.refreshMemberFlag(ctx, memberID); err != nil {
			res.Failed++
			e.logger.Error("failed to update outstanding fine flag",
				slog.String("member_id", memberID),
				slog.Any("error", err))
		}
	}

	return res, nil
}

// PayFine settles fineID and clears the member's flag once nothing is owed.
func (e *FineEngine) PayFine(ctx context.Context, fineID string, now time.Time) (*domain.FineRecord, error) {
	if err := e.store.MarkFinePaid(ctx, fineID, now); err != nil {
		return nil, translate(err, "pay fine")
	}

	fine, err := e.store.GetFine(ctx, fineID)
	if err != nil {
		return nil, translate(err, "get fine")
	}

	if err := e.refreshMemberFlag(ctx, fine.MemberID); err != nil {
		// The payment is committed; the next fine run recomputes the flag.
		e.logger.Error("failed to update outstanding fine flag",
			slog.String("member_id", fine.MemberID),
			slog.Any("error", err))
	}

	e.logger.Info("fine paid",
		slog.String("fine_id", fineID),
		slog.String("member_id", fine.MemberID),
		slog.String("amount", fine.Amount.String()))
	return fine, nil
}

// ListMemberFines returns every fine of memberID, unpaid ones first.
func (e *FineEngine) ListMemberFines(ctx context.Context, memberID string) ([]*domain.FineRecord, error) {
	fines, err := e.store.ListMemberFines(ctx, memberID)
	if err != nil {
		return nil, translate(err, "list fines")
	}
	return fines, nil
}

// HasUnpaidFines reports whether memberID owes anything.
func (e *FineEngine) HasUnpaidFines(ctx context.Context, memberID string) (bool, error) {
	n, err := e.store.CountUnpaidFines(ctx, memberID)
	if err != nil {
		return false, translate(err, "count unpaid fines")
	}
	return n > 0, nil
}

func (e *FineEngine) refreshMemberFlag(ctx context.Context, memberID string) error {
	outstanding, err := e.HasUnpaidFines(ctx, memberID)
	if err != nil {
		return err
	}
	return e.store.SetOutstandingFine(ctx, memberID, outstanding)
}
