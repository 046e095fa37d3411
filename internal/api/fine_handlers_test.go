package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/service"
)

func TestSweepIssuesFinesAndStaffSettlesThem(t *testing.T) {
	ts := setupTestServer(t)
	adminID := ts.admin(t)
	memberID := ts.member(t)
	itemID := ts.item(t, 1)

	loan := ts.borrow(t, adminID, memberID, itemID, 1)
	ts.clock.Advance(3 * 24 * time.Hour)

	// Members cannot trigger maintenance.
	resp := ts.api.Post("/api/v1/maintenance/sweep", as(memberID))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Post("/api/v1/maintenance/sweep", as(adminID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	sweep := decode[service.SweepResult](t, resp)
	assert.Equal(t, 1, sweep.Overdue)
	assert.Equal(t, 1, sweep.Fines)
	assert.Zero(t, sweep.Failed)

	got := decode[LoanResponse](t, ts.api.Get("/api/v1/loans/"+loan.ID, as(memberID)))
	assert.Equal(t, "overdue", got.Status)

	fines := decode[MemberFinesResponse](t, ts.api.Get("/api/v1/members/"+memberID+"/fines", as(memberID)))
	require.Len(t, fines.Fines, 1)
	fine := fines.Fines[0]
	assert.Equal(t, loan.ID, fine.LoanID)
	assert.Equal(t, "20.00", fine.Amount)
	assert.Equal(t, 2, fine.DaysOverdue)
	assert.False(t, fine.IsPaid)
	assert.Equal(t, "20.00", fines.UnpaidTotal)

	// Outstanding fines block new requests.
	resp = ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": ts.item(t, 1)})
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "outstanding_fines", decodeError(t, resp).Reason)

	resp = ts.api.Post("/api/v1/fines/"+fine.ID+"/pay", as(memberID))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Post("/api/v1/fines/"+fine.ID+"/pay", as(adminID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	paid := decode[FineResponse](t, resp)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)

	// Paying twice is a stale transition.
	resp = ts.api.Post("/api/v1/fines/"+fine.ID+"/pay", as(adminID))
	assert.Equal(t, http.StatusConflict, resp.Code)

	fines = decode[MemberFinesResponse](t, ts.api.Get("/api/v1/members/"+memberID+"/fines", as(memberID)))
	assert.Equal(t, "0.00", fines.UnpaidTotal)
}

func TestListMemberFines_OtherMemberForbidden(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)

	resp := ts.api.Get("/api/v1/members/"+memberID+"/fines", as(ts.member(t)))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Get("/api/v1/members/"+memberID+"/fines", as(ts.admin(t)))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[MemberFinesResponse](t, resp).Fines)
}

func TestSendReminders(t *testing.T) {
	ts := setupTestServer(t)
	adminID := ts.admin(t)

	ts.borrow(t, adminID, ts.member(t), ts.item(t, 1), 2)
	ts.borrow(t, adminID, ts.member(t), ts.item(t, 1), 10)

	resp := ts.api.Post("/api/v1/maintenance/reminders", as(adminID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	counts := decode[RemindersResponse](t, resp)
	assert.Equal(t, 1, counts.DueSoon)
	assert.Zero(t, counts.Overdue)
}
