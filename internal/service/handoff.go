package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/circulate/circulation-server/internal/domain"
)

// handoff decides where a freed unit goes: to the head of the item's queue
// if anyone waits, otherwise back on the shelf.
type handoff struct {
	ledger   *InventoryLedger
	queue    *QueueManager
	notifier Notifier
	logger   *slog.Logger
}

// transfer runs after the transition that freed the unit has committed, so
// it never fails the caller. Returns the promoted record, if any.
func (h *handoff) transfer(ctx context.Context, itemID string, now time.Time) *domain.LoanRecord {
	promoted, err := h.queue.PromoteNext(ctx, itemID, now)
	if err != nil {
		// Promotion is transactional, so nothing moved; put the unit back.
		// The sweep's stranded-queue pass retries the promotion later.
		h.logger.Error("queue promotion failed, releasing unit",
			slog.String("item_id", itemID),
			slog.Any("error", err))
		promoted = nil
	}

	if promoted != nil {
		h.notifier.Notify(ctx, domain.NewNotification(domain.NotifyBookAvailable, promoted,
			"A copy you were waiting for is ready to collect.", now))
		return promoted
	}

	if err := h.ledger.Release(ctx, itemID); err != nil {
		h.logger.Error("failed to release unit",
			slog.String("item_id", itemID),
			slog.Any("error", err))
	}
	return nil
}
