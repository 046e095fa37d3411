package service

import (
	"context"

	"github.com/circulate/circulation-server/internal/domain"
)

// Notifier receives lifecycle notifications after a transition commits.
// Implementations must not block on delivery and report failures only
// through their own logging.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

// Notify implements Notifier as a no-op.
func (NoopNotifier) Notify(context.Context, domain.Notification) {}
