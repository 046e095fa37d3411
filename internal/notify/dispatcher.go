// Package notify delivers lifecycle notifications to members.
//
// Services hand notifications to a Dispatcher, which persists them in the
// outbox and returns immediately. A Relay drains the outbox in the
// background and pushes each entry to every configured Sink.
package notify

import (
	"context"
	"log/slog"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/outbox"
)

// Queue is the durable buffer between the dispatcher and the relay.
type Queue interface {
	Enqueue(ctx context.Context, n domain.Notification) (*outbox.Entry, error)
	Pending(ctx context.Context, limit int) ([]*outbox.Entry, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, entry *outbox.Entry, cause error) error
	DeadLetter(ctx context.Context, entry *outbox.Entry, cause error) error
}

// Waker is told when new work lands in the queue.
type Waker interface {
	Kick()
}

// Dispatcher accepts notifications from the circulation services.
type Dispatcher struct {
	queue  Queue
	waker  Waker
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. waker may be nil, in which case the
// relay picks entries up on its next tick.
func NewDispatcher(queue Queue, waker Waker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, waker: waker, logger: logger}
}

// Notify records n for delivery. Failures are logged and never reach the
// caller: the transition that produced n has already committed.
func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	// Detach from request cancellation so a client hanging up after a
	// committed transition does not lose the notification.
	entry, err := d.queue.Enqueue(context.WithoutCancel(ctx), n)
	if err != nil {
		d.logger.Error("failed to enqueue notification",
			slog.String("kind", string(n.Kind)),
			slog.String("member_id", n.MemberID),
			slog.String("loan_id", n.LoanID),
			slog.String("error", err.Error()))
		return
	}

	d.logger.Debug("notification queued",
		slog.String("entry_id", entry.ID),
		slog.String("kind", string(n.Kind)),
		slog.String("loan_id", n.LoanID))

	if d.waker != nil {
		d.waker.Kick()
	}
}
