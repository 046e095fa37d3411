package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

var itemColumns = []any{
	"id", "title", "author", "isbn", "total_copies", "available_copies", "created_at", "updated_at",
}

type itemRow struct {
	ID              string `db:"id"`
	Title           string `db:"title"`
	Author          string `db:"author"`
	ISBN            string `db:"isbn"`
	TotalCopies     int    `db:"total_copies"`
	AvailableCopies int    `db:"available_copies"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func (r *itemRow) toDomain() (*domain.CatalogItem, error) {
	item := &domain.CatalogItem{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
	}
	var err error
	if item.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return item, nil
}

// CreateItem inserts a catalog item.
// Returns store.ErrAlreadyExists on duplicate ID.
func (s *Store) CreateItem(ctx context.Context, item *domain.CatalogItem) error {
	if err := item.Validate(); err != nil {
		return store.ErrInvalidInput.WithCause(err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, title, author, isbn, total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Author, item.ISBN,
		item.TotalCopies, item.AvailableCopies,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// GetItem retrieves an item by ID.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	query, args, err := toSQL(s.dialect.From("items").Select(itemColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return nil, err
	}

	var row itemRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("item %s not found", id))
		}
		return nil, err
	}
	return row.toDomain()
}

// ListItems returns every item ordered by title.
func (s *Store) ListItems(ctx context.Context) ([]*domain.CatalogItem, error) {
	return s.selectItems(ctx, s.dialect.From("items").Select(itemColumns...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()))
}

// ListItemsWithStrandedQueue returns items with both a free copy and waiters.
func (s *Store) ListItemsWithStrandedQueue(ctx context.Context) ([]*domain.CatalogItem, error) {
	waiting := s.dialect.From("loans").Select("item_id").
		Where(goqu.C("status").Eq(string(domain.LoanStatusQueued)))
	ds := s.dialect.From("items").Select(itemColumns...).Where(
		goqu.C("available_copies").Gt(0),
		goqu.C("id").In(waiting),
	).Order(goqu.C("id").Asc())
	return s.selectItems(ctx, ds)
}

func (s *Store) selectItems(ctx context.Context, ds *goqu.SelectDataset) ([]*domain.CatalogItem, error) {
	query, args, err := toSQL(ds.Prepared(true))
	if err != nil {
		return nil, err
	}
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	items := make([]*domain.CatalogItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// DecrementAvailable takes one copy iff one is free.
func (s *Store) DecrementAvailable(ctx context.Context, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND available_copies > 0`,
		formatTime(s.now()), itemID)
	if err != nil {
		return false, fmt.Errorf("decrement available copies: %w", err)
	}
	return s.counterResult(ctx, res, itemID)
}

// IncrementAvailable returns one copy iff the shelf is not already full.
func (s *Store) IncrementAvailable(ctx context.Context, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies`,
		formatTime(s.now()), itemID)
	if err != nil {
		return false, fmt.Errorf("increment available copies: %w", err)
	}
	return s.counterResult(ctx, res, itemID)
}

// counterResult distinguishes a bound hit from an unknown item.
func (s *Store) counterResult(ctx context.Context, res sql.Result, itemID string) (bool, error) {
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if err := s.requireRow(ctx, "items", itemID); err != nil {
		return false, err
	}
	return false, nil
}

// requireRow returns store.ErrNotFound unless table has a row with id.
func (s *Store) requireRow(ctx context.Context, table, id string) error {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM `+table+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound.WithMessage(fmt.Sprintf("%s %s not found", singular(table), id))
	}
	return err
}

func singular(table string) string {
	return table[:len(table)-1]
}
