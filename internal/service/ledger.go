package service

import (
	"context"
	"log/slog"

	"github.com/circulate/circulation-server/internal/store"
)

// InventoryLedger is the only path through which available_copies changes.
type InventoryLedger struct {
	store  store.InventoryStore
	logger *slog.Logger
}

// NewInventoryLedger creates a ledger over the given counters.
func NewInventoryLedger(s store.InventoryStore, logger *slog.Logger) *InventoryLedger {
	return &InventoryLedger{store: s, logger: logger}
}

// TryReserve takes one unit of itemID if any is free.
func (l *InventoryLedger) TryReserve(ctx context.Context, itemID string) (bool, error) {
	ok, err := l.store.DecrementAvailable(ctx, itemID)
	if err != nil {
		return false, translate(err, "reserve unit")
	}
	return ok, nil
}

// Release returns one unit of itemID. Releasing at the bound means a unit
// was returned twice somewhere; the counter is left alone and the event is
// logged.
func (l *InventoryLedger) Release(ctx context.Context, itemID string) error {
	ok, err := l.store.IncrementAvailable(ctx, itemID)
	if err != nil {
		return translate(err, "release unit")
	}
	if !ok {
		l.logger.Warn("inventory release at total copies, ignoring",
			slog.String("item_id", itemID))
	}
	return nil
}
