package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/domain"
	domainerrors "github.com/circulate/circulation-server/internal/errors"
	"github.com/circulate/circulation-server/internal/id"
	"github.com/circulate/circulation-server/internal/store"
	"github.com/circulate/circulation-server/internal/store/sqlite"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// recordingNotifier keeps every notification it is handed.
type recordingNotifier struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) all() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.got...)
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

func (r *recordingNotifier) count(kind domain.NotificationKind) int {
	n := 0
	for _, got := range r.all() {
		if got.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) forMember(memberID string) []domain.NotificationKind {
	var kinds []domain.NotificationKind
	for _, got := range r.all() {
		if got.MemberID == memberID {
			kinds = append(kinds, got.Kind)
		}
	}
	return kinds
}

type fixture struct {
	store     *sqlite.Store
	clock     *clock.Fake
	notifier  *recordingNotifier
	ledger    *InventoryLedger
	queue     *QueueManager
	fines     *FineEngine
	svc       *CirculationService
	scheduler *MaintenanceScheduler
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore lets a test wrap the real store to inject failures.
func newFixtureWithStore(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := clock.NewFake(testNow)
	s.SetNow(clk.Now)

	var st store.Store = s
	if wrap != nil {
		st = wrap(s)
	}

	logger := slog.New(slog.DiscardHandler)
	policy := DefaultPolicy()
	notifier := &recordingNotifier{}

	ledger := NewInventoryLedger(st, logger)
	queue := NewQueueManager(st, policy.QueueHoldWindow, policy.ReservationWindow, logger)
	fines := NewFineEngine(st, policy.DailyFineRate, logger)

	return &fixture{
		store:    s,
		clock:    clk,
		notifier: notifier,
		ledger:   ledger,
		queue:    queue,
		fines:    fines,
		svc:      NewCirculationService(st, ledger, queue, fines, notifier, clk, policy, logger),
		scheduler: NewMaintenanceScheduler(st, ledger, queue, fines, notifier, clk, MaintenanceConfig{
			SweepInterval:    2 * time.Hour,
			ExpiryInterval:   time.Hour,
			ReminderInterval: 24 * time.Hour,
			DueSoonWindow:    policy.DueSoonWindow,
		}, logger),
	}
}

func (f *fixture) member(t *testing.T, standing domain.Standing) *domain.Member {
	t.Helper()
	return f.createMember(t, domain.RoleMember, standing)
}

func (f *fixture) admin(t *testing.T) Actor {
	t.Helper()
	m := f.createMember(t, domain.RoleAdmin, domain.StandingApproved)
	return Actor{MemberID: m.ID, IsAdmin: true}
}

func (f *fixture) createMember(t *testing.T, role domain.Role, standing domain.Standing) *domain.Member {
	t.Helper()
	memberID := id.MustGenerate(id.PrefixMember)
	m := &domain.Member{
		ID:        memberID,
		Name:      "Member " + memberID,
		Email:     memberID + "@example.org",
		Role:      role,
		Standing:  standing,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateMember(context.Background(), m))
	return m
}

func (f *fixture) item(t *testing.T, copies int) *domain.CatalogItem {
	t.Helper()
	itemID := id.MustGenerate(id.PrefixItem)
	item := domain.NewCatalogItem(itemID, "Title "+itemID, "Author", copies, f.clock.Now())
	require.NoError(t, f.store.CreateItem(context.Background(), item))
	return item
}

func (f *fixture) loan(t *testing.T, loanID string) *domain.LoanRecord {
	t.Helper()
	loan, err := f.store.GetLoan(context.Background(), loanID)
	require.NoError(t, err)
	return loan
}

func (f *fixture) available(t *testing.T, itemID string) int {
	t.Helper()
	item, err := f.store.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	return item.AvailableCopies
}

// borrow reserves and collects itemID for m with the given loan period.
func (f *fixture) borrow(t *testing.T, m *domain.Member, itemID string, days int) *domain.LoanRecord {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.RequestLoan(ctx, m.ID, itemID)
	require.NoError(t, err)
	require.False(t, res.Queued, "expected a free copy")
	loan, err := f.svc.ConfirmCollection(ctx, res.Loan.ID, days)
	require.NoError(t, err)
	return loan
}

// assertUnitsAccounted checks 0 <= available <= total and that every
// unit-holding record accounts for exactly one missing copy.
func (f *fixture) assertUnitsAccounted(t *testing.T, itemID string) {
	t.Helper()
	ctx := context.Background()

	item, err := f.store.GetItem(ctx, itemID)
	require.NoError(t, err)
	require.NoError(t, item.Validate())

	loans, err := f.store.ListLoans(ctx, store.LoanFilter{ItemID: itemID})
	require.NoError(t, err)

	holding := 0
	for _, l := range loans {
		require.NoError(t, l.Validate())
		if l.Status.HoldsUnit() {
			holding++
		}
	}
	assert.Equal(t, item.TotalCopies-holding, item.AvailableCopies,
		"available copies must equal total minus unit-holding records")
}

func requireReason(t *testing.T, err error, reason domainerrors.Reason) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrPolicyViolation)
	assert.Equal(t, reason, domainerrors.ReasonOf(err), "error: %v", err)
}

func requireCode(t *testing.T, err error, code domainerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, domainerrors.CodeOf(err), "error: %v", err)
}

func assertTime(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), fmt.Sprintf("want %s, got %s", want, got))
}
