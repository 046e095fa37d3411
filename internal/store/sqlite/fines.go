package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/shopspring/decimal"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

var fineColumns = []any{
	"id", "loan_id", "member_id", "item_id", "amount", "days_overdue",
	"due_date", "is_paid", "paid_at", "created_at",
}

type fineRow struct {
	ID          string         `db:"id"`
	LoanID      string         `db:"loan_id"`
	MemberID    string         `db:"member_id"`
	ItemID      string         `db:"item_id"`
	Amount      string         `db:"amount"`
	DaysOverdue int            `db:"days_overdue"`
	DueDate     string         `db:"due_date"`
	IsPaid      bool           `db:"is_paid"`
	PaidAt      sql.NullString `db:"paid_at"`
	CreatedAt   string         `db:"created_at"`
}

func (r *fineRow) toDomain() (*domain.FineRecord, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse fine amount %q: %w", r.Amount, err)
	}
	f := &domain.FineRecord{
		ID:          r.ID,
		LoanID:      r.LoanID,
		MemberID:    r.MemberID,
		ItemID:      r.ItemID,
		Amount:      amount,
		DaysOverdue: r.DaysOverdue,
		IsPaid:      r.IsPaid,
	}
	if f.DueDate, err = parseTime(r.DueDate); err != nil {
		return nil, err
	}
	if f.PaidAt, err = parseNullableTime(r.PaidAt); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

// CreateFine inserts fine unless the loan already carries an unpaid fine.
// The partial unique index on unpaid fines makes the skip race-free.
func (s *Store) CreateFine(ctx context.Context, fine *domain.FineRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fines (id, loan_id, member_id, item_id, amount, days_overdue, due_date, is_paid, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fine.ID, fine.LoanID, fine.MemberID, fine.ItemID, fine.Amount.String(), fine.DaysOverdue,
		formatTime(fine.DueDate), boolInt(fine.IsPaid), nullTimeString(fine.PaidAt), formatTime(fine.CreatedAt),
	)
	if isForeignKeyViolation(err) {
		return false, store.ErrNotFound.WithMessage(fmt.Sprintf("loan %s not found", fine.LoanID))
	}
	if err != nil {
		return false, fmt.Errorf("insert fine: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetFine retrieves a fine by ID.
// Returns store.ErrNotFound if the fine does not exist.
func (s *Store) GetFine(ctx context.Context, id string) (*domain.FineRecord, error) {
	query, args, err := toSQL(s.dialect.From("fines").Select(fineColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return nil, err
	}
	var row fineRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("fine %s not found", id))
		}
		return nil, err
	}
	return row.toDomain()
}

// ListMemberFines returns the member's fines, unpaid first, newest first.
func (s *Store) ListMemberFines(ctx context.Context, memberID string) ([]*domain.FineRecord, error) {
	query, args, err := toSQL(s.dialect.From("fines").Select(fineColumns...).
		Where(goqu.C("member_id").Eq(memberID)).
		Order(goqu.C("is_paid").Asc(), goqu.C("created_at").Desc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	var rows []fineRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list fines: %w", err)
	}
	fines := make([]*domain.FineRecord, 0, len(rows))
	for i := range rows {
		f, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	return fines, nil
}

// MarkFinePaid settles an unpaid fine.
// Returns store.ErrStaleState if the fine was already paid.
func (s *Store) MarkFinePaid(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fines SET is_paid = 1, paid_at = ? WHERE id = ? AND is_paid = 0`,
		formatTime(now), id)
	if err != nil {
		return fmt.Errorf("mark fine paid: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := s.requireRow(ctx, "fines", id); err != nil {
		return err
	}
	return store.ErrStaleState.WithMessage(fmt.Sprintf("fine %s is already paid", id))
}

// CountUnpaidFines returns how many unpaid fines the member has.
func (s *Store) CountUnpaidFines(ctx context.Context, memberID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM fines WHERE member_id = ? AND is_paid = 0`, memberID)
	if err != nil {
		return 0, fmt.Errorf("count unpaid fines: %w", err)
	}
	return n, nil
}

// ListOverdueWithoutFine returns overdue loans that have no unpaid fine.
func (s *Store) ListOverdueWithoutFine(ctx context.Context) ([]*domain.LoanRecord, error) {
	var rows []loanRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = ? AND NOT EXISTS (
			SELECT 1 FROM fines WHERE fines.loan_id = loans.id AND fines.is_paid = 0
		)
		ORDER BY due_date ASC, id ASC`,
		string(domain.LoanStatusOverdue))
	if err != nil {
		return nil, fmt.Errorf("list overdue without fine: %w", err)
	}
	return loansFromRows(rows)
}
