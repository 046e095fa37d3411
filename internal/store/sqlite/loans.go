package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

// loanColumns must match the db tags of loanRow.
const loanColumns = `id, member_id, item_id, status, reservation_expiry, hold_until,
	borrow_date, due_date, return_date, queue_position, created_at, updated_at`

var loanColumnList = []any{
	"id", "member_id", "item_id", "status", "reservation_expiry", "hold_until",
	"borrow_date", "due_date", "return_date", "queue_position", "created_at", "updated_at",
}

type loanRow struct {
	ID                string         `db:"id"`
	MemberID          string         `db:"member_id"`
	ItemID            string         `db:"item_id"`
	Status            string         `db:"status"`
	ReservationExpiry sql.NullString `db:"reservation_expiry"`
	HoldUntil         sql.NullString `db:"hold_until"`
	BorrowDate        sql.NullString `db:"borrow_date"`
	DueDate           sql.NullString `db:"due_date"`
	ReturnDate        sql.NullString `db:"return_date"`
	QueuePosition     sql.NullInt64  `db:"queue_position"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
}

func (r *loanRow) toDomain() (*domain.LoanRecord, error) {
	l := &domain.LoanRecord{
		ID:       r.ID,
		MemberID: r.MemberID,
		ItemID:   r.ItemID,
		Status:   domain.LoanStatus(r.Status),
	}

	var err error
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&l.ReservationExpiry, r.ReservationExpiry},
		{&l.HoldUntil, r.HoldUntil},
		{&l.BorrowDate, r.BorrowDate},
		{&l.DueDate, r.DueDate},
		{&l.ReturnDate, r.ReturnDate},
	} {
		if *f.dst, err = parseNullableTime(f.src); err != nil {
			return nil, err
		}
	}
	if r.QueuePosition.Valid {
		pos := int(r.QueuePosition.Int64)
		l.QueuePosition = &pos
	}
	if l.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return l, nil
}

func loansFromRows(rows []loanRow) ([]*domain.LoanRecord, error) {
	loans := make([]*domain.LoanRecord, 0, len(rows))
	for i := range rows {
		l, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// CreateLoan inserts a reserved loan record.
// Returns store.ErrAlreadyExists if the member already has an open request
// for the item, store.ErrNotFound if the member or item is unknown.
func (s *Store) CreateLoan(ctx context.Context, loan *domain.LoanRecord) error {
	if loan.Status != domain.LoanStatusReserved {
		return store.ErrInvalidInput.WithMessage(fmt.Sprintf("create loan: status %s, want reserved", loan.Status))
	}
	if err := loan.Validate(); err != nil {
		return store.ErrInvalidInput.WithCause(err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.MemberID, loan.ItemID, string(loan.Status),
		nullTimeString(loan.ReservationExpiry), nullTimeString(loan.HoldUntil),
		nullTimeString(loan.BorrowDate), nullTimeString(loan.DueDate), nullTimeString(loan.ReturnDate),
		nullInt(loan.QueuePosition),
		formatTime(loan.CreatedAt), formatTime(loan.UpdatedAt),
	)
	switch {
	case isUniqueViolation(err):
		return store.ErrAlreadyExists.WithMessage("member already has an open request for this item")
	case isForeignKeyViolation(err):
		return store.ErrNotFound.WithMessage("member or item not found")
	case err != nil:
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
// Returns store.ErrNotFound if the loan does not exist.
func (s *Store) GetLoan(ctx context.Context, id string) (*domain.LoanRecord, error) {
	return getLoan(ctx, s.db, id)
}

func getLoan(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.LoanRecord, error) {
	var row loanRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("loan %s not found", id))
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// ListLoans returns loans matching filter, oldest first.
func (s *Store) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*domain.LoanRecord, error) {
	ds := s.dialect.From("loans").Select(loanColumnList...)

	if filter.MemberID != "" {
		ds = ds.Where(goqu.C("member_id").Eq(filter.MemberID))
	}
	if filter.ItemID != "" {
		ds = ds.Where(goqu.C("item_id").Eq(filter.ItemID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		ds = ds.Where(goqu.C("status").In(statuses))
	}
	if !filter.DueBefore.IsZero() {
		ds = ds.Where(goqu.C("due_date").Lt(formatTime(filter.DueBefore)))
	}
	if !filter.DueAfter.IsZero() {
		ds = ds.Where(goqu.C("due_date").Gt(formatTime(filter.DueAfter)))
	}
	if !filter.ExpiresBefore.IsZero() {
		ds = ds.Where(goqu.C("reservation_expiry").Lt(formatTime(filter.ExpiresBefore)))
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(filter.Limit)
	}

	query, args, err := toSQL(ds.Prepared(true))
	if err != nil {
		return nil, err
	}
	var rows []loanRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loansFromRows(rows)
}

// UpdateLoan writes loan iff the stored status still equals from.
// Returns store.ErrNotFound for an unknown loan and store.ErrStaleState when
// the status moved underneath the caller.
func (s *Store) UpdateLoan(ctx context.Context, loan *domain.LoanRecord, from domain.LoanStatus) error {
	if err := loan.Validate(); err != nil {
		return store.ErrInvalidInput.WithCause(err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE loans SET
			status = ?, reservation_expiry = ?, hold_until = ?, borrow_date = ?,
			due_date = ?, return_date = ?, queue_position = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(loan.Status),
		nullTimeString(loan.ReservationExpiry), nullTimeString(loan.HoldUntil),
		nullTimeString(loan.BorrowDate), nullTimeString(loan.DueDate), nullTimeString(loan.ReturnDate),
		nullInt(loan.QueuePosition), formatTime(loan.UpdatedAt),
		loan.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	return s.guardResult(ctx, res, loan.ID, from)
}

// DeleteLoan removes the loan iff its stored status equals status.
func (s *Store) DeleteLoan(ctx context.Context, id string, status domain.LoanStatus) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return s.guardResult(ctx, res, id, status)
}

// guardResult maps a zero-row guarded write to NotFound or StaleState.
func (s *Store) guardResult(ctx context.Context, res sql.Result, id string, expected domain.LoanStatus) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, err := s.GetLoan(ctx, id)
	if err != nil {
		return err
	}
	return store.ErrStaleState.WithMessage(
		fmt.Sprintf("loan %s is %s, expected %s", id, current.Status, expected))
}

// MarkOverdue moves every borrowed loan due before now to overdue in one
// statement and returns the changed records.
func (s *Store) MarkOverdue(ctx context.Context, now time.Time) ([]*domain.LoanRecord, error) {
	var rows []loanRow
	err := s.db.SelectContext(ctx, &rows, `
		UPDATE loans SET status = ?, updated_at = ?
		WHERE status = ? AND due_date < ?
		RETURNING `+loanColumns,
		string(domain.LoanStatusOverdue), formatTime(now),
		string(domain.LoanStatusBorrowed), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	return loansFromRows(rows)
}
