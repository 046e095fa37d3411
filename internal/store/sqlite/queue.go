package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

// Enqueue appends loan to its item's queue. The position is computed inside
// the INSERT, so concurrent joins cannot observe the same queue length.
func (s *Store) Enqueue(ctx context.Context, loan *domain.LoanRecord) error {
	if loan.Status != domain.LoanStatusQueued {
		return store.ErrInvalidInput.WithMessage(fmt.Sprintf("enqueue: status %s, want queued", loan.Status))
	}

	var position int
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO loans (id, member_id, item_id, status, queue_position, created_at, updated_at)
		SELECT ?, ?, ?, ?, COALESCE(MAX(queue_position), 0) + 1, ?, ?
		FROM loans WHERE item_id = ? AND status = ?
		RETURNING queue_position`,
		loan.ID, loan.MemberID, loan.ItemID, string(domain.LoanStatusQueued),
		formatTime(loan.CreatedAt), formatTime(loan.UpdatedAt),
		loan.ItemID, string(domain.LoanStatusQueued),
	).Scan(&position)
	switch {
	case isUniqueViolation(err):
		return store.ErrAlreadyExists.WithMessage("member already has an open request for this item")
	case isForeignKeyViolation(err):
		return store.ErrNotFound.WithMessage("member or item not found")
	case err != nil:
		return fmt.Errorf("enqueue loan: %w", err)
	}

	loan.QueuePosition = &position
	return nil
}

// PromoteHead turns the first waiter into a reserved hold and shifts the rest
// of the queue up by one, all in one write transaction.
func (s *Store) PromoteHead(ctx context.Context, itemID string, now time.Time, holdWindow, reservationWindow time.Duration) (*domain.LoanRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var row loanRow
	err = tx.GetContext(ctx, &row, `
		SELECT `+loanColumns+` FROM loans
		WHERE item_id = ? AND status = ?
		ORDER BY queue_position ASC LIMIT 1`,
		itemID, string(domain.LoanStatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select queue head: %w", err)
	}

	head, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	promotedFrom := *head.QueuePosition
	if err := head.Promote(now, holdWindow, reservationWindow); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE loans SET status = ?, hold_until = ?, reservation_expiry = ?, queue_position = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(head.Status), nullTimeString(head.HoldUntil), nullTimeString(head.ReservationExpiry),
		formatTime(now), head.ID, string(domain.LoanStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("promote queue head: %w", err)
	}
	if n, err := rowsAffected(res); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, store.ErrStaleState.WithMessage(fmt.Sprintf("queue head %s changed during promotion", head.ID))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE loans SET queue_position = queue_position - 1, updated_at = ?
		WHERE item_id = ? AND status = ? AND queue_position > ?`,
		formatTime(now), itemID, string(domain.LoanStatusQueued), promotedFrom); err != nil {
		return nil, fmt.Errorf("renumber queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promote: %w", err)
	}
	return head, nil
}

// ListQueue returns the item's waiters in position order.
func (s *Store) ListQueue(ctx context.Context, itemID string) ([]*domain.LoanRecord, error) {
	var rows []loanRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+loanColumns+` FROM loans
		WHERE item_id = ? AND status = ?
		ORDER BY queue_position ASC`,
		itemID, string(domain.LoanStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return loansFromRows(rows)
}
