package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/domain"
)

func TestRequestLoan_ReservesFreeCopy(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)
	itemID := ts.item(t, 1)

	resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": itemID})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	res := decode[LoanRequestResponse](t, resp)
	assert.False(t, res.Queued)
	assert.Equal(t, "reserved", res.Loan.Status)
	assert.Equal(t, memberID, res.Loan.MemberID)
	require.NotNil(t, res.Loan.ReservationExpiry)
	assert.True(t, res.Loan.ReservationExpiry.Equal(testNow.Add(24*time.Hour)))
	assert.Nil(t, res.Loan.QueuePosition)
}

func TestRequestLoan_QueuesWhenNoCopyFree(t *testing.T) {
	ts := setupTestServer(t)
	itemID := ts.item(t, 1)
	ts.requestLoan(t, ts.member(t), itemID)

	resp := ts.api.Post("/api/v1/loans", as(ts.member(t)), map[string]any{"item_id": itemID})
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	res := decode[LoanRequestResponse](t, resp)
	assert.True(t, res.Queued)
	assert.Equal(t, "queued", res.Loan.Status)
	require.NotNil(t, res.Loan.QueuePosition)
	assert.Equal(t, 1, *res.Loan.QueuePosition)
}

func TestRequestLoan_Rejections(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)
	itemID := ts.item(t, 2)

	t.Run("anonymous", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/loans", map[string]any{"item_id": itemID})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
		assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp).Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/loans", as("mbr-ghost"), map[string]any{"item_id": itemID})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("missing item id fails schema validation", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Equal(t, "VALIDATION", decodeError(t, resp).Code)
	})

	t.Run("malformed item id", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": "book-1"})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		env := decodeError(t, resp)
		assert.Equal(t, "VALIDATION", env.Code)
		assert.Contains(t, env.Details, "item_id")
	})

	t.Run("unknown item", func(t *testing.T) {
		resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": "item-missing"})
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
	})

	t.Run("duplicate request is a policy violation", func(t *testing.T) {
		ts.requestLoan(t, memberID, itemID)

		resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": itemID})
		assert.Equal(t, http.StatusConflict, resp.Code)
		env := decodeError(t, resp)
		assert.Equal(t, "POLICY_VIOLATION", env.Code)
		assert.Equal(t, "duplicate_request", env.Reason)
	})

	t.Run("pending membership", func(t *testing.T) {
		pending := ts.createMember(t, domain.RoleMember, domain.StandingPending)

		resp := ts.api.Post("/api/v1/loans", as(pending), map[string]any{"item_id": itemID})
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "membership_not_approved", decodeError(t, resp).Reason)
	})
}

func TestRequestLoan_OnBehalfOfMember(t *testing.T) {
	ts := setupTestServer(t)
	adminID := ts.admin(t)
	memberID := ts.member(t)
	itemID := ts.item(t, 2)

	resp := ts.api.Post("/api/v1/loans", as(adminID), map[string]any{"item_id": itemID, "member_id": memberID})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, memberID, decode[LoanRequestResponse](t, resp).Loan.MemberID)

	other := ts.member(t)
	resp = ts.api.Post("/api/v1/loans", as(other), map[string]any{"item_id": itemID, "member_id": memberID})
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestGetLoan_Ownership(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)
	loan := ts.requestLoan(t, memberID, ts.item(t, 1)).Loan

	resp := ts.api.Get("/api/v1/loans/"+loan.ID, as(memberID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, loan.ID, decode[LoanResponse](t, resp).ID)

	resp = ts.api.Get("/api/v1/loans/"+loan.ID, as(ts.member(t)))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Get("/api/v1/loans/"+loan.ID, as(ts.admin(t)))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/loans/loan-missing", as(memberID))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListMemberLoans(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)
	ts.requestLoan(t, memberID, ts.item(t, 1))
	ts.requestLoan(t, memberID, ts.item(t, 1))

	resp := ts.api.Get("/api/v1/members/"+memberID+"/loans", as(memberID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[LoanListResponse](t, resp).Loans, 2)

	resp = ts.api.Get("/api/v1/members/"+memberID+"/loans", as(ts.member(t)))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestLoanLifecycle_CollectReturnAndHandOff(t *testing.T) {
	ts := setupTestServer(t)
	adminID := ts.admin(t)
	borrower := ts.member(t)
	waiter := ts.member(t)
	itemID := ts.item(t, 1)

	loan := ts.borrow(t, adminID, borrower, itemID, 7)
	assert.Equal(t, "borrowed", loan.Status)
	require.NotNil(t, loan.DueDate)
	assert.True(t, loan.DueDate.Equal(testNow.AddDate(0, 0, 7)))

	queued := ts.requestLoan(t, waiter, itemID)
	require.True(t, queued.Queued)

	// Only the borrower may announce the return.
	resp := ts.api.Post("/api/v1/loans/"+loan.ID+"/return-request", as(waiter))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "not_owner", decodeError(t, resp).Reason)

	resp = ts.api.Post("/api/v1/loans/"+loan.ID+"/return-request", as(borrower))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "return_requested", decode[LoanResponse](t, resp).Status)

	// Staff only.
	resp = ts.api.Post("/api/v1/loans/"+loan.ID+"/return-confirm", as(borrower))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Post("/api/v1/loans/"+loan.ID+"/return-confirm", as(adminID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ret := decode[ReturnResponse](t, resp)
	assert.Equal(t, "returned", ret.Loan.Status)
	require.NotNil(t, ret.PromotedLoan)
	assert.Equal(t, queued.Loan.ID, ret.PromotedLoan.ID)
	assert.Equal(t, "reserved", ret.PromotedLoan.Status)
	require.NotNil(t, ret.AvailableCopies)
	assert.Equal(t, 0, *ret.AvailableCopies)

	// A second confirmation is an invalid transition.
	resp = ts.api.Post("/api/v1/loans/"+loan.ID+"/return-confirm", as(adminID))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, resp).Reason)
}

func TestCollectLoan(t *testing.T) {
	ts := setupTestServer(t)
	adminID := ts.admin(t)
	memberID := ts.member(t)

	t.Run("default period without a body", func(t *testing.T) {
		loan := ts.requestLoan(t, memberID, ts.item(t, 1)).Loan

		resp := ts.api.Post("/api/v1/loans/"+loan.ID+"/collect", as(adminID))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		collected := decode[LoanResponse](t, resp)
		require.NotNil(t, collected.DueDate)
		assert.True(t, collected.DueDate.Equal(testNow.AddDate(0, 0, 14)))
	})

	t.Run("members cannot collect", func(t *testing.T) {
		loan := ts.requestLoan(t, memberID, ts.item(t, 1)).Loan

		resp := ts.api.Post("/api/v1/loans/"+loan.ID+"/collect", as(memberID))
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("period out of range", func(t *testing.T) {
		loan := ts.requestLoan(t, memberID, ts.item(t, 1)).Loan

		resp := ts.api.Post("/api/v1/loans/"+loan.ID+"/collect", as(adminID),
			map[string]any{"loan_period_days": 400})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Contains(t, decodeError(t, resp).Details, "loan_period_days")
	})
}

func TestCancelReservation(t *testing.T) {
	ts := setupTestServer(t)
	memberID := ts.member(t)
	itemID := ts.item(t, 1)
	loan := ts.requestLoan(t, memberID, itemID).Loan

	resp := ts.api.Delete("/api/v1/loans/"+loan.ID, as(ts.member(t)))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "not_owner", decodeError(t, resp).Reason)

	resp = ts.api.Delete("/api/v1/loans/"+loan.ID, as(memberID))
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/loans/"+loan.ID, as(memberID))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	avail := decode[ItemAvailabilityResponse](t, ts.api.Get("/api/v1/items/"+itemID+"/availability", as(memberID)))
	assert.Equal(t, 1, avail.AvailableCopies)
}
