package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/sse"
)

// Sink is one delivery channel. Name must be stable across restarts; the
// outbox records which sinks already accepted an entry by name.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

// ErrStreamUnavailable is returned when the SSE manager refuses an event.
var ErrStreamUnavailable = errors.New("event stream unavailable")

// Emitter pushes events to connected members.
type Emitter interface {
	EmitToMember(memberID string, event sse.Event) bool
}

// SSESink pushes notifications to the member's open event streams.
// Members without an open stream simply miss the push.
type SSESink struct {
	emitter Emitter
}

// NewSSESink creates an SSE sink.
func NewSSESink(emitter Emitter) *SSESink {
	return &SSESink{emitter: emitter}
}

// Name implements Sink.
func (*SSESink) Name() string { return "sse" }

// Deliver implements Sink.
func (s *SSESink) Deliver(_ context.Context, n domain.Notification) error {
	if !s.emitter.EmitToMember(n.MemberID, sse.NewLoanNotificationEvent(n)) {
		return ErrStreamUnavailable
	}
	return nil
}

// LogSink writes each notification as a structured log line. It stands in
// for the mail transport, which lives outside this server.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (*LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, n domain.Notification) error {
	attrs := []slog.Attr{
		slog.String("kind", string(n.Kind)),
		slog.String("member_id", n.MemberID),
		slog.String("loan_id", n.LoanID),
		slog.String("item_id", n.ItemID),
		slog.String("message", n.Message),
	}
	if n.DueDate != nil {
		attrs = append(attrs, slog.Time("due_date", *n.DueDate))
	}
	if n.HoldUntil != nil {
		attrs = append(attrs, slog.Time("hold_until", *n.HoldUntil))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "member notified", attrs...)
	return nil
}
