package domain

import (
	"time"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

// CatalogItem is a lendable title with its inventory ledger embedded.
// AvailableCopies is only ever changed through the inventory ledger.
type CatalogItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author,omitempty"`
	ISBN            string    `json:"isbn,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewCatalogItem creates an item with every copy on the shelf.
func NewCatalogItem(id, title, author string, copies int, now time.Time) *CatalogItem {
	return &CatalogItem{
		ID:              id,
		Title:           title,
		Author:          author,
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks 0 <= available <= total.
func (i *CatalogItem) Validate() error {
	if i.TotalCopies < 0 {
		return domainerrors.Validationf("item %s: total copies %d is negative", i.ID, i.TotalCopies)
	}
	if i.AvailableCopies < 0 || i.AvailableCopies > i.TotalCopies {
		return domainerrors.Validationf("item %s: available copies %d outside [0, %d]",
			i.ID, i.AvailableCopies, i.TotalCopies)
	}
	return nil
}

// CopiesOut returns the number of units held by reservations or loans.
func (i *CatalogItem) CopiesOut() int {
	return i.TotalCopies - i.AvailableCopies
}

// IsAvailable reports whether a request would be reserved rather than queued.
func (i *CatalogItem) IsAvailable() bool {
	return i.AvailableCopies > 0
}
