package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/store"
)

// MaintenanceConfig sets the scheduler's cadence.
type MaintenanceConfig struct {
	SweepInterval    time.Duration
	ExpiryInterval   time.Duration
	ReminderInterval time.Duration
	DueSoonWindow    time.Duration
}

// SweepResult counts what a maintenance pass changed.
type SweepResult struct {
	Overdue  int `json:"overdue"`
	Expired  int `json:"expired"`
	Fines    int `json:"fines"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// IsZero reports whether the pass changed nothing.
func (r SweepResult) IsZero() bool {
	return r == SweepResult{}
}

// MaintenanceStore is what the scheduler reads and writes directly.
type MaintenanceStore interface {
	store.LoanStore
	ListItemsWithStrandedQueue(ctx context.Context) ([]*domain.CatalogItem, error)
}

// MaintenanceScheduler drives the time-based transitions: overdue marking,
// reservation expiry, fine issuing and reminders.
type MaintenanceScheduler struct {
	store    MaintenanceStore
	ledger   *InventoryLedger
	queue    *QueueManager
	fines    *FineEngine
	notifier Notifier
	clock    clock.Clock
	cfg      MaintenanceConfig
	logger   *slog.Logger
	handoff  *handoff

	observer func(SweepResult)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenanceScheduler creates a scheduler. Call Start to run it on its
// tickers, or call the individual passes directly.
func NewMaintenanceScheduler(
	s MaintenanceStore,
	ledger *InventoryLedger,
	queue *QueueManager,
	fines *FineEngine,
	notifier Notifier,
	clk clock.Clock,
	cfg MaintenanceConfig,
	logger *slog.Logger,
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		store:    s,
		ledger:   ledger,
		queue:    queue,
		fines:    fines,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		handoff:  &handoff{ledger: ledger, queue: queue, notifier: notifier, logger: logger},
	}
}

// SetSweepObserver registers a callback invoked after every full sweep.
// This is set after construction so the scheduler does not depend on the
// event transport.
func (m *MaintenanceScheduler) SetSweepObserver(fn func(SweepResult)) {
	m.observer = fn
}

// RunSweep performs one full maintenance pass. It never returns an error:
// failures are logged per record and counted in Failed.
func (m *MaintenanceScheduler) RunSweep(ctx context.Context) SweepResult {
	now := m.clock.Now()
	var res SweepResult

	overdue, err := m.store.MarkOverdue(ctx, now)
	if err != nil {
		res.Failed++
		m.logger.Error("overdue pass failed", slog.Any("error", err))
	}
	for _, loan := range overdue {
		m.notifyOverdue(ctx, loan, now)
	}
	res.Overdue = len(overdue)

	expiry := m.expireReservations(ctx, now)
	res.Expired = expiry.Expired
	res.Promoted = expiry.Promoted
	res.Failed += expiry.Failed

	fines, err := m.fines.IssueFines(ctx, now)
	if err != nil {
		res.Failed++
		m.logger.Error("fine pass failed", slog.Any("error", err))
	}
	res.Fines = fines.Created
	res.Failed += fines.Failed

	promoted, failed := m.reconcileQueues(ctx, now)
	res.Promoted += promoted
	res.Failed += failed

	if res.IsZero() {
		m.logger.Debug("maintenance sweep found nothing to do")
	} else {
		m.logger.Info("maintenance sweep completed",
			slog.Int("overdue", res.Overdue),
			slog.Int("expired", res.Expired),
			slog.Int("fines", res.Fines),
			slog.Int("promoted", res.Promoted),
			slog.Int("failed", res.Failed))
	}

	if m.observer != nil {
		m.observer(res)
	}
	return res
}

// ExpireReservations runs the reservation-expiry pass on its own.
func (m *MaintenanceScheduler) ExpireReservations(ctx context.Context) SweepResult {
	res := m.expireReservations(ctx, m.clock.Now())
	if res.Expired > 0 || res.Failed > 0 {
		m.logger.Info("reservation expiry completed",
			slog.Int("expired", res.Expired),
			slog.Int("promoted", res.Promoted),
			slog.Int("failed", res.Failed))
	}
	return res
}

// expireReservations removes every hold whose collection deadline passed
// and hands its unit on.
func (m *MaintenanceScheduler) expireReservations(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult

	expired, err := m.store.ListLoans(ctx, store.LoanFilter{
		Statuses:      []domain.LoanStatus{domain.LoanStatusReserved},
		ExpiresBefore: now,
	})
	if err != nil {
		res.Failed++
		m.logger.Error("failed to list expired reservations", slog.Any("error", err))
		return res
	}

	for _, loan := range expired {
		if err := m.store.DeleteLoan(ctx, loan.ID, domain.LoanStatusReserved); err != nil {
			if isStale(err) {
				// Collected or cancelled since the listing; nothing to expire.
				continue
			}
			res.Failed++
			m.logger.Error("failed to expire reservation",
				slog.String("loan_id", loan.ID),
				slog.Any("error", err))
			continue
		}
		res.Expired++

		if promoted := m.handoff.transfer(ctx, loan.ItemID, now); promoted != nil {
			res.Promoted++
		}

		m.notifier.Notify(ctx, domain.NewNotification(domain.NotifyReservationCancelled, loan,
			"Your reservation expired before it was collected.", now))
	}
	return res
}

// reconcileQueues promotes waiters on items that have a free copy. This
// only happens when an earlier hand-off failed part way.
func (m *MaintenanceScheduler) reconcileQueues(ctx context.Context, now time.Time) (promoted, failed int) {
	items, err := m.store.ListItemsWithStrandedQueue(ctx)
	if err != nil {
		m.logger.Error("failed to list stranded queues", slog.Any("error", err))
		return 0, 1
	}

	for _, item := range items {
		for range item.AvailableCopies {
			ok, err := m.ledger.TryReserve(ctx, item.ID)
			if err != nil {
				failed++
				m.logger.Error("failed to reserve unit for waiter",
					slog.String("item_id", item.ID), slog.Any("error", err))
				break
			}
			if !ok {
				break
			}
			if m.handoff.transfer(ctx, item.ID, now) == nil {
				// Queue drained concurrently; the unit went back to the shelf.
				break
			}
			promoted++
		}
	}
	return promoted, failed
}

// SendDueReminders notifies members whose loans fall due between one day
// and the reminder window from now, both ends inclusive. Returns the number
// of reminders sent.
func (m *MaintenanceScheduler) SendDueReminders(ctx context.Context) int {
	now := m.clock.Now()
	loans, err := m.store.ListLoans(ctx, store.LoanFilter{
		Statuses:  []domain.LoanStatus{domain.LoanStatusBorrowed},
		DueAfter:  now.Add(domain.Day - time.Nanosecond),
		DueBefore: now.Add(m.cfg.DueSoonWindow + time.Nanosecond),
	})
	if err != nil {
		m.logger.Error("failed to list loans due soon", slog.Any("error", err))
		return 0
	}

	for _, loan := range loans {
		m.notifier.Notify(ctx, domain.NewNotification(domain.NotifyDueSoon, loan,
			fmt.Sprintf("Your loan is due on %s.", loan.DueDate.Format(time.DateOnly)), now))
	}
	if len(loans) > 0 {
		m.logger.Info("due reminders sent", slog.Int("count", len(loans)))
	}
	return len(loans)
}

// SendOverdueAlerts notifies every member holding an overdue loan.
func (m *MaintenanceScheduler) SendOverdueAlerts(ctx context.Context) int {
	now := m.clock.Now()
	loans, err := m.store.ListLoans(ctx, store.LoanFilter{
		Statuses: []domain.LoanStatus{domain.LoanStatusOverdue},
	})
	if err != nil {
		m.logger.Error("failed to list overdue loans", slog.Any("error", err))
		return 0
	}

	for _, loan := range loans {
		m.notifyOverdue(ctx, loan, now)
	}
	if len(loans) > 0 {
		m.logger.Info("overdue alerts sent", slog.Int("count", len(loans)))
	}
	return len(loans)
}

func (m *MaintenanceScheduler) notifyOverdue(ctx context.Context, loan *domain.LoanRecord, now time.Time) {
	msg := "Your loan is overdue. Please return it as soon as possible."
	if quote := m.fines.Quote(loan, now); !quote.IsZero() {
		msg = fmt.Sprintf("Your loan is %d days overdue; fines accrue daily.", quote.DaysOverdue)
	}
	m.notifier.Notify(ctx, domain.NewNotification(domain.NotifyOverdue, loan, msg, now))
}

// Start runs an initial sweep and then the periodic passes until Stop.
func (m *MaintenanceScheduler) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	sweepTicker := m.clock.NewTicker(m.cfg.SweepInterval)
	expiryTicker := m.clock.NewTicker(m.cfg.ExpiryInterval)
	reminderTicker := m.clock.NewTicker(m.cfg.ReminderInterval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer sweepTicker.Stop()
		defer expiryTicker.Stop()
		defer reminderTicker.Stop()

		// Initial sweep on startup
		m.RunSweep(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C():
				m.RunSweep(ctx)
			case <-expiryTicker.C():
				m.ExpireReservations(ctx)
			case <-reminderTicker.C():
				m.SendDueReminders(ctx)
				m.SendOverdueAlerts(ctx)
			}
		}
	}()

	m.logger.Info("maintenance scheduler started",
		slog.Duration("sweep_interval", m.cfg.SweepInterval),
		slog.Duration("expiry_interval", m.cfg.ExpiryInterval),
		slog.Duration("reminder_interval", m.cfg.ReminderInterval))
}

// Stop halts the scheduler and waits for a running pass to finish.
func (m *MaintenanceScheduler) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("maintenance scheduler stopped")
}
