package sse

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	t.Cleanup(cancel)
	return m
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func sampleNotification(memberID string) domain.Notification {
	due := time.Date(2026, 5, 18, 10, 0, 0, 0, time.UTC)
	return domain.Notification{
		Kind:       domain.NotifyBorrowConfirmed,
		MemberID:   memberID,
		LoanID:     "loan-1",
		ItemID:     "item-1",
		Message:    "enjoy",
		DueDate:    &due,
		OccurredAt: due.Add(-14 * 24 * time.Hour),
	}
}

func TestManager_EmitToMemberReachesOnlyThatMember(t *testing.T) {
	m := startManager(t)

	alice, err := m.Connect("mem-alice", false)
	require.NoError(t, err)
	bob, err := m.Connect("mem-bob", false)
	require.NoError(t, err)

	require.True(t, m.Emit(NewLoanNotificationEvent(sampleNotification("mem-alice"))))

	ev := receive(t, alice)
	assert.Equal(t, EventLoanNotification, ev.Type)
	data, ok := ev.Data.(LoanNotificationData)
	require.True(t, ok)
	assert.Equal(t, domain.NotifyBorrowConfirmed, data.Kind)
	assert.Equal(t, "loan-1", data.LoanID)

	assertNoEvent(t, bob)
}

func TestManager_AdminOnlyEvents(t *testing.T) {
	m := startManager(t)

	admin, err := m.Connect("mem-admin", true)
	require.NoError(t, err)
	member, err := m.Connect("mem-1", false)
	require.NoError(t, err)

	m.Emit(NewSweepCompletedEvent(SweepCompletedData{Overdue: 2}, time.Now()))

	ev := receive(t, admin)
	assert.Equal(t, EventSweepCompleted, ev.Type)
	assertNoEvent(t, member)
}

func TestManager_ConnectDisconnect(t *testing.T) {
	m := NewManager(testLogger())

	c, err := m.Connect("mem-1", false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.ID, "sse-"))
	assert.Equal(t, 1, m.ClientCount())
	assert.True(t, m.IsConnected("mem-1"))
	assert.False(t, m.IsConnected("mem-2"))

	m.Disconnect(c.ID)
	m.Disconnect(c.ID)
	assert.Equal(t, 0, m.ClientCount())
	assert.False(t, m.IsConnected("mem-1"))

	_, open := <-c.Done
	assert.False(t, open)
}

func TestManager_ShutdownRejectsEmits(t *testing.T) {
	m := NewManager(testLogger())
	c, err := m.Connect("mem-1", false)
	require.NoError(t, err)

	require.True(t, m.EmitToMember("mem-1", NewLoanNotificationEvent(sampleNotification("mem-1"))))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	// The queued event was drained to the client before it was closed.
	ev, ok := <-c.EventChan
	require.True(t, ok)
	assert.Equal(t, EventLoanNotification, ev.Type)

	assert.False(t, m.Emit(NewHeartbeatEvent()))
	assert.Equal(t, 0, m.ClientCount())
}

type headerIdentifier struct{}

func (headerIdentifier) Identify(r *http.Request) (string, bool, error) {
	id := r.Header.Get("X-Member-ID")
	if id == "" {
		return "", false, errors.New("missing member")
	}
	return id, false, nil
}

func TestHandler_RejectsAnonymous(t *testing.T) {
	h := NewHandler(NewManager(testLogger()), headerIdentifier{}, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_StreamsMemberEvents(t *testing.T) {
	m := startManager(t)
	srv := httptest.NewServer(NewHandler(m, headerIdentifier{}, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Member-ID", "mem-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		var frame strings.Builder
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\n" {
				return frame.String()
			}
			frame.WriteString(line)
		}
	}

	assert.Contains(t, readFrame(), "event: connected")

	require.Eventually(t, func() bool { return m.IsConnected("mem-1") }, 2*time.Second, 10*time.Millisecond)
	m.Emit(NewLoanNotificationEvent(sampleNotification("mem-1")))

	frame := readFrame()
	assert.Contains(t, frame, "event: loan.notification")
	assert.Contains(t, frame, `"kind":"borrow_confirmed"`)
	assert.NotContains(t, frame, "mem-1", "member id is not serialized")
}
