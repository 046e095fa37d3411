// Package sse implements Server-Sent Events for real-time circulation updates.
package sse

import (
	"time"

	"github.com/circulate/circulation-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventLoanNotification carries a member-facing lifecycle notification.
	EventLoanNotification EventType = "loan.notification"

	// EventSweepCompleted reports maintenance sweep counts. Only sent to admins.
	EventSweepCompleted EventType = "maintenance.sweep_completed"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// MemberID restricts delivery to one member's connections.
	// Empty means every connection (subject to admin filtering).
	MemberID string `json:"-"`
}

// LoanNotificationData is the payload of a loan.notification event.
type LoanNotificationData struct {
	Kind      domain.NotificationKind `json:"kind"`
	LoanID    string                  `json:"loan_id"`
	ItemID    string                  `json:"item_id"`
	Message   string                  `json:"message"`
	DueDate   *time.Time              `json:"due_date,omitempty"`
	HoldUntil *time.Time              `json:"hold_until,omitempty"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
}

// SweepCompletedData is the payload of a maintenance.sweep_completed event.
type SweepCompletedData struct {
	Overdue  int `json:"overdue"`
	Expired  int `json:"expired"`
	Fines    int `json:"fines"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// HeartbeatEventData is the payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewLoanNotificationEvent wraps n for its member.
func NewLoanNotificationEvent(n domain.Notification) Event {
	return Event{
		Type: EventLoanNotification,
		Data: LoanNotificationData{
			Kind:      n.Kind,
			LoanID:    n.LoanID,
			ItemID:    n.ItemID,
			Message:   n.Message,
			DueDate:   n.DueDate,
			HoldUntil: n.HoldUntil,
			ExpiresAt: n.ExpiresAt,
		},
		Timestamp: n.OccurredAt,
		MemberID:  n.MemberID,
	}
}

// NewSweepCompletedEvent creates a maintenance.sweep_completed event.
func NewSweepCompletedEvent(data SweepCompletedData, at time.Time) Event {
	return Event{
		Type:      EventSweepCompleted,
		Data:      data,
		Timestamp: at,
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatEventData{ServerTime: now},
		Timestamp: now,
	}
}

// isAdminOnlyEvent returns true if the event should only be sent to admin users.
func isAdminOnlyEvent(eventType EventType) bool {
	return eventType == EventSweepCompleted
}
