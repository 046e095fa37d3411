package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestLoanStatus_CanTransitionTo(t *testing.T) {
	all := []LoanStatus{
		LoanStatusQueued, LoanStatusReserved, LoanStatusBorrowed, LoanStatusReturnRequested,
		LoanStatusReturned, LoanStatusOverdue, LoanStatusExpired,
	}
	allowed := map[[2]LoanStatus]bool{
		{LoanStatusQueued, LoanStatusReserved}:          true,
		{LoanStatusQueued, LoanStatusExpired}:           true,
		{LoanStatusReserved, LoanStatusBorrowed}:        true,
		{LoanStatusReserved, LoanStatusExpired}:         true,
		{LoanStatusBorrowed, LoanStatusReturnRequested}: true,
		{LoanStatusBorrowed, LoanStatusOverdue}:         true,
		{LoanStatusOverdue, LoanStatusReturnRequested}:  true,
		{LoanStatusReturnRequested, LoanStatusReturned}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]LoanStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestLoanStatus_Properties(t *testing.T) {
	assert.True(t, LoanStatusReturned.IsTerminal())
	assert.True(t, LoanStatusExpired.IsTerminal())
	assert.False(t, LoanStatusOverdue.IsTerminal())

	assert.False(t, LoanStatusQueued.HoldsUnit())
	assert.True(t, LoanStatusReserved.HoldsUnit())
	assert.True(t, LoanStatusReturnRequested.HoldsUnit())
	assert.False(t, LoanStatusReturned.HoldsUnit())

	assert.False(t, LoanStatus("lost").Valid())
}

func TestLoanRecord_TransitionRejectsUnlistedChange(t *testing.T) {
	loan := NewQueuedLoan("loan-1", "mbr-1", "item-1", testNow)
	loan.QueuePosition = intPtr(1)

	err := loan.Transition(LoanStatusBorrowed, testNow)

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrPolicyViolation)
	assert.Equal(t, domainerrors.ReasonInvalidTransition, domainerrors.ReasonOf(err))
	assert.Equal(t, LoanStatusQueued, loan.Status)
}

func TestLoanRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		loan    LoanRecord
		wantErr bool
	}{
		{name: "queued with position", loan: LoanRecord{Status: LoanStatusQueued, QueuePosition: intPtr(2)}},
		{name: "queued without position", loan: LoanRecord{Status: LoanStatusQueued}, wantErr: true},
		{name: "queued with zero position", loan: LoanRecord{Status: LoanStatusQueued, QueuePosition: intPtr(0)}, wantErr: true},
		{name: "reserved with expiry", loan: LoanRecord{Status: LoanStatusReserved, ReservationExpiry: timePtr(testNow)}},
		{name: "reserved without expiry", loan: LoanRecord{Status: LoanStatusReserved}, wantErr: true},
		{
			name:    "reserved and queued",
			loan:    LoanRecord{Status: LoanStatusReserved, ReservationExpiry: timePtr(testNow), QueuePosition: intPtr(1)},
			wantErr: true,
		},
		{name: "borrowed clean", loan: LoanRecord{Status: LoanStatusBorrowed, DueDate: timePtr(testNow)}},
		{name: "borrowed with stale expiry", loan: LoanRecord{Status: LoanStatusBorrowed, ReservationExpiry: timePtr(testNow)}, wantErr: true},
		{name: "unknown status", loan: LoanRecord{Status: "lost"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loan.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domainerrors.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoanRecord_FullLifecycleKeepsInvariant(t *testing.T) {
	loan := NewQueuedLoan("loan-1", "mbr-1", "item-1", testNow)
	loan.QueuePosition = intPtr(1)
	require.NoError(t, loan.Validate())

	require.NoError(t, loan.Promote(testNow, 48*time.Hour, 24*time.Hour))
	require.NoError(t, loan.Validate())
	assert.Nil(t, loan.QueuePosition)
	assert.Equal(t, testNow.Add(48*time.Hour), *loan.HoldUntil)
	assert.Equal(t, testNow.Add(24*time.Hour), *loan.ReservationExpiry)

	collectAt := testNow.Add(time.Hour)
	require.NoError(t, loan.Collect(collectAt, 14*Day))
	require.NoError(t, loan.Validate())
	assert.Equal(t, collectAt, *loan.BorrowDate)
	assert.Equal(t, collectAt.Add(14*Day), *loan.DueDate)
	assert.Nil(t, loan.HoldUntil)

	require.NoError(t, loan.MarkOverdue(collectAt.Add(15*Day)))
	require.NoError(t, loan.RequestReturn(collectAt.Add(16*Day)))
	require.NoError(t, loan.CompleteReturn(collectAt.Add(17*Day)))
	require.NoError(t, loan.Validate())
	assert.Equal(t, LoanStatusReturned, loan.Status)
	assert.Equal(t, collectAt.Add(17*Day), *loan.ReturnDate)
}

func TestLoanRecord_CollectAfterExpiry(t *testing.T) {
	loan := NewReservedLoan("loan-1", "mbr-1", "item-1", testNow, 24*time.Hour)

	err := loan.Collect(testNow.Add(24*time.Hour+time.Second), 14*Day)

	assert.ErrorIs(t, err, domainerrors.PolicyViolation(domainerrors.ReasonReservationExpired, ""))
	assert.Equal(t, LoanStatusReserved, loan.Status)
	assert.Nil(t, loan.BorrowDate)
}

func TestLoanRecord_Predicates(t *testing.T) {
	reserved := NewReservedLoan("loan-1", "mbr-1", "item-1", testNow, 24*time.Hour)
	assert.True(t, reserved.IsActiveReservation(testNow.Add(23*time.Hour)))
	assert.True(t, reserved.IsActiveReservation(testNow.Add(24*time.Hour)), "the deadline itself is still active")
	assert.False(t, reserved.IsActiveReservation(testNow.Add(24*time.Hour+time.Nanosecond)))
	assert.False(t, reserved.IsActiveLoan())
	assert.True(t, reserved.IsOwnedBy("mbr-1"))
	assert.False(t, reserved.IsOwnedBy("mbr-2"))

	borrowed := &LoanRecord{Status: LoanStatusBorrowed, DueDate: timePtr(testNow)}
	assert.True(t, borrowed.IsActiveLoan())
	assert.False(t, borrowed.IsPastDue(testNow))
	assert.True(t, borrowed.IsPastDue(testNow.Add(time.Second)))

	pending := &LoanRecord{Status: LoanStatusReturnRequested, DueDate: timePtr(testNow)}
	assert.False(t, pending.IsPastDue(testNow.Add(Day)))
}
