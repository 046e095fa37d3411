package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

// QueueManager keeps the per-item waiting lists in FIFO order.
type QueueManager struct {
	store             store.QueueStore
	holdWindow        time.Duration
	reservationWindow time.Duration
	logger            *slog.Logger
}

// NewQueueManager creates a queue manager. Promoted waiters get holdWindow
// as their informational hold and reservationWindow to collect.
func NewQueueManager(s store.QueueStore, holdWindow, reservationWindow time.Duration, logger *slog.Logger) *QueueManager {
	return &QueueManager{
		store:             s,
		holdWindow:        holdWindow,
		reservationWindow: reservationWindow,
		logger:            logger,
	}
}

// Join appends loan to the tail of its item's queue and sets its position.
func (q *QueueManager) Join(ctx context.Context, loan *domain.LoanRecord) error {
	if err := q.store.Enqueue(ctx, loan); err != nil {
		return translate(err, "join queue")
	}
	q.logger.Info("loan queued",
		slog.String("loan_id", loan.ID),
		slog.String("item_id", loan.ItemID),
		slog.Int("position", *loan.QueuePosition))
	return nil
}

// PromoteNext hands a free unit of itemID to the head of the queue.
// The caller must already hold that unit. Returns nil when nobody waits.
func (q *QueueManager) PromoteNext(ctx context.Context, itemID string, now time.Time) (*domain.LoanRecord, error) {
	loan, err := q.store.PromoteHead(ctx, itemID, now, q.holdWindow, q.reservationWindow)
	if err != nil {
		return nil, translate(err, "promote queue head")
	}
	if loan != nil {
		q.logger.Info("queue head promoted",
			slog.String("loan_id", loan.ID),
			slog.String("item_id", itemID),
			slog.String("member_id", loan.MemberID))
	}
	return loan, nil
}

// Queue returns the waiting list of itemID in position order.
func (q *QueueManager) Queue(ctx context.Context, itemID string) ([]*domain.LoanRecord, error) {
	loans, err := q.store.ListQueue(ctx, itemID)
	if err != nil {
		return nil, translate(err, "list queue")
	}
	return loans, nil
}
