package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

func reserve(t *testing.T, s *Store, loanID, memberID, itemID string) *domain.LoanRecord {
	t.Helper()
	loan := domain.NewReservedLoan(loanID, memberID, itemID, testNow, 24*time.Hour)
	require.NoError(t, s.CreateLoan(context.Background(), loan))
	return loan
}

func queue(t *testing.T, s *Store, loanID, memberID, itemID string) *domain.LoanRecord {
	t.Helper()
	loan := domain.NewQueuedLoan(loanID, memberID, itemID, testNow)
	require.NoError(t, s.Enqueue(context.Background(), loan))
	return loan
}

func TestCreateLoan_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 1)

	created := reserve(t, s, "loan-1", "mbr-1", "item-1")

	got, err := s.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusReserved, got.Status)
	require.NotNil(t, got.ReservationExpiry)
	assert.True(t, created.ReservationExpiry.Equal(*got.ReservationExpiry))
	assert.Nil(t, got.QueuePosition)
	assert.NoError(t, got.Validate())
}

func TestCreateLoan_RejectsSecondOpenRequestForSameItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 2)
	reserve(t, s, "loan-1", "mbr-1", "item-1")

	err := s.CreateLoan(ctx, domain.NewReservedLoan("loan-2", "mbr-1", "item-1", testNow, time.Hour))
	assertAlreadyExists(t, err)

	err = s.Enqueue(ctx, domain.NewQueuedLoan("loan-3", "mbr-1", "item-1", testNow))
	assertAlreadyExists(t, err)
}

func TestCreateLoan_UnknownMember(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "item-1", 1)

	err := s.CreateLoan(context.Background(), domain.NewReservedLoan("loan-1", "mbr-ghost", "item-1", testNow, time.Hour))
	assertNotFound(t, err)
}

func TestCreateLoan_RequiresReservedStatus(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateLoan(context.Background(), domain.NewQueuedLoan("loan-1", "mbr-1", "item-1", testNow))
	assertInvalidInput(t, err)
}

func TestUpdateLoan_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 1)
	loan := reserve(t, s, "loan-1", "mbr-1", "item-1")

	require.NoError(t, loan.Collect(testNow.Add(time.Hour), 14*domain.Day))
	require.NoError(t, s.UpdateLoan(ctx, loan, domain.LoanStatusReserved))

	// A second writer still believing the loan is reserved loses.
	stale := *loan
	err := s.UpdateLoan(ctx, &stale, domain.LoanStatusReserved)
	assertStale(t, err)

	got, err := s.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusBorrowed, got.Status)
	assert.Nil(t, got.ReservationExpiry)
	require.NotNil(t, got.DueDate)
	assert.True(t, testNow.Add(time.Hour+14*domain.Day).Equal(*got.DueDate))

	missing := *loan
	missing.ID = "loan-ghost"
	assertNotFound(t, s.UpdateLoan(ctx, &missing, domain.LoanStatusBorrowed))
}

func TestUpdateLoan_RejectsBrokenInvariant(t *testing.T) {
	s := newTestStore(t)
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 1)
	loan := reserve(t, s, "loan-1", "mbr-1", "item-1")

	loan.Status = domain.LoanStatusBorrowed // expiry still set
	assertInvalidInput(t, s.UpdateLoan(context.Background(), loan, domain.LoanStatusReserved))
}

func TestDeleteLoan_Guarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 1)
	reserve(t, s, "loan-1", "mbr-1", "item-1")

	assertStale(t, s.DeleteLoan(ctx, "loan-1", domain.LoanStatusBorrowed))
	require.NoError(t, s.DeleteLoan(ctx, "loan-1", domain.LoanStatusReserved))
	assertNotFound(t, s.DeleteLoan(ctx, "loan-1", domain.LoanStatusReserved))
}

func TestListLoans_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedMember(t, s, "mbr-2")
	seedItem(t, s, "item-1", 2)
	seedItem(t, s, "item-2", 1)

	reserve(t, s, "loan-1", "mbr-1", "item-1")
	borrowed := reserve(t, s, "loan-2", "mbr-1", "item-2")
	require.NoError(t, borrowed.Collect(testNow, 3*domain.Day))
	require.NoError(t, s.UpdateLoan(ctx, borrowed, domain.LoanStatusReserved))
	reserve(t, s, "loan-3", "mbr-2", "item-1")

	byMember, err := s.ListLoans(ctx, store.LoanFilter{MemberID: "mbr-1"})
	require.NoError(t, err)
	assert.Len(t, byMember, 2)

	byItemStatus, err := s.ListLoans(ctx, store.LoanFilter{ItemID: "item-1", Statuses: []domain.LoanStatus{domain.LoanStatusReserved}})
	require.NoError(t, err)
	assert.Len(t, byItemStatus, 2)

	dueSoon, err := s.ListLoans(ctx, store.LoanFilter{
		Statuses:  []domain.LoanStatus{domain.LoanStatusBorrowed},
		DueAfter:  testNow,
		DueBefore: testNow.Add(4 * domain.Day),
	})
	require.NoError(t, err)
	require.Len(t, dueSoon, 1)
	assert.Equal(t, "loan-2", dueSoon[0].ID)

	expiring, err := s.ListLoans(ctx, store.LoanFilter{ExpiresBefore: testNow.Add(25 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, expiring, 2)

	limited, err := s.ListLoans(ctx, store.LoanFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMarkOverdue_TransitionsOnlyPastDueBorrowed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-1", 1)
	seedItem(t, s, "item-2", 1)

	late := reserve(t, s, "loan-late", "mbr-1", "item-1")
	require.NoError(t, late.Collect(testNow, 1*domain.Day))
	require.NoError(t, s.UpdateLoan(ctx, late, domain.LoanStatusReserved))

	onTime := reserve(t, s, "loan-ok", "mbr-1", "item-2")
	require.NoError(t, onTime.Collect(testNow, 14*domain.Day))
	require.NoError(t, s.UpdateLoan(ctx, onTime, domain.LoanStatusReserved))

	sweepAt := testNow.Add(2 * domain.Day)
	changed, err := s.MarkOverdue(ctx, sweepAt)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "loan-late", changed[0].ID)
	assert.Equal(t, domain.LoanStatusOverdue, changed[0].Status)

	again, err := s.MarkOverdue(ctx, sweepAt)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEnqueue_AssignsContiguousPositions(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "item-1", 0)
	for i, id := range []string{"a", "b", "c"} {
		seedMember(t, s, id)
		loan := queue(t, s, "loan-"+id, id, "item-1")
		require.NotNil(t, loan.QueuePosition)
		assert.Equal(t, i+1, *loan.QueuePosition)
	}

	q, err := s.ListQueue(context.Background(), "item-1")
	require.NoError(t, err)
	require.Len(t, q, 3)
	assert.Equal(t, "loan-a", q[0].ID)
	assert.Equal(t, "loan-c", q[2].ID)
}

func TestEnqueue_ConcurrentJoinsGetDistinctPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "item-1", 0)

	const joiners = 12
	ids := make([]string, joiners)
	for i := range joiners {
		ids[i] = "mbr-" + string(rune('a'+i))
		seedMember(t, s, ids[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Enqueue(ctx, domain.NewQueuedLoan("loan-"+id, id, "item-1", testNow))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	q, err := s.ListQueue(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, q, joiners)
	for i, l := range q {
		assert.Equal(t, i+1, *l.QueuePosition)
	}
}

func TestPromoteHead_FairnessAndRenumbering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "item-1", 0)
	for _, id := range []string{"a", "b", "c"} {
		seedMember(t, s, id)
		queue(t, s, "loan-"+id, id, "item-1")
	}

	promoteAt := testNow.Add(time.Hour)
	head, err := s.PromoteHead(ctx, "item-1", promoteAt, 48*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "loan-a", head.ID)
	assert.Equal(t, domain.LoanStatusReserved, head.Status)

	stored, err := s.GetLoan(ctx, "loan-a")
	require.NoError(t, err)
	assert.Nil(t, stored.QueuePosition)
	assert.True(t, promoteAt.Add(48*time.Hour).Equal(*stored.HoldUntil))
	assert.True(t, promoteAt.Add(24*time.Hour).Equal(*stored.ReservationExpiry))
	assert.NoError(t, stored.Validate())

	q, err := s.ListQueue(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "loan-b", q[0].ID)
	assert.Equal(t, 1, *q[0].QueuePosition)
	assert.Equal(t, "loan-c", q[1].ID)
	assert.Equal(t, 2, *q[1].QueuePosition)
}

func TestPromoteHead_EmptyQueue(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "item-1", 0)

	head, err := s.PromoteHead(context.Background(), "item-1", testNow, 48*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestListItemsWithStrandedQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMember(t, s, "mbr-1")
	seedItem(t, s, "item-stranded", 1)
	seedItem(t, s, "item-busy", 0)
	seedItem(t, s, "item-idle", 1)

	queue(t, s, "loan-1", "mbr-1", "item-stranded")
	queue(t, s, "loan-2", "mbr-1", "item-busy")

	items, err := s.ListItemsWithStrandedQueue(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-stranded", items[0].ID)
}
