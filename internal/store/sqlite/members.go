package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

type memberRow struct {
	ID                 string `db:"id"`
	Name               string `db:"name"`
	Email              string `db:"email"`
	Role               string `db:"role"`
	Standing           string `db:"standing"`
	HasOutstandingFine bool   `db:"has_outstanding_fine"`
	CreatedAt          string `db:"created_at"`
	UpdatedAt          string `db:"updated_at"`
}

// CreateMember inserts a member.
// Returns store.ErrAlreadyExists on duplicate ID or email.
func (s *Store) CreateMember(ctx context.Context, m *domain.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, email, role, standing, has_outstanding_fine, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Email, string(m.Role), string(m.Standing), boolInt(m.HasOutstandingFine),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// GetMember retrieves a member by ID.
// Returns store.ErrNotFound if the member does not exist.
func (s *Store) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, email, role, standing, has_outstanding_fine, created_at, updated_at
		FROM members WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("member %s not found", id))
	}
	if err != nil {
		return nil, err
	}

	m := &domain.Member{
		ID:                 row.ID,
		Name:               row.Name,
		Email:              row.Email,
		Role:               domain.Role(row.Role),
		Standing:           domain.Standing(row.Standing),
		HasOutstandingFine: row.HasOutstandingFine,
	}
	if m.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// SetOutstandingFine persists the member's denormalized fine flag.
func (s *Store) SetOutstandingFine(ctx context.Context, memberID string, outstanding bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET has_outstanding_fine = ?, updated_at = ? WHERE id = ?`,
		boolInt(outstanding), formatTime(s.now()), memberID)
	if err != nil {
		return fmt.Errorf("set outstanding fine: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound.WithMessage(fmt.Sprintf("member %s not found", memberID))
	}
	return nil
}
