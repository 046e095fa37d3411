package providers

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/shopspring/decimal"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/logger"
	"github.com/circulate/circulation-server/internal/notify"
	"github.com/circulate/circulation-server/internal/service"
)

// ProvidePolicy builds the lending rules from configuration.
func ProvidePolicy(i do.Injector) (service.Policy, error) {
	cfg := do.MustInvoke[*config.Config](i)

	rate, err := decimal.NewFromString(cfg.Circulation.DailyFineRate)
	if err != nil {
		return service.Policy{}, fmt.Errorf("parse daily fine rate: %w", err)
	}

	return service.Policy{
		ReservationWindow: cfg.Circulation.ReservationWindow,
		QueueHoldWindow:   cfg.Circulation.QueueHoldWindow,
		DefaultLoanDays:   cfg.Circulation.DefaultLoanDays,
		MaxActiveLoans:    cfg.Circulation.MaxActiveLoans,
		DailyFineRate:     rate,
		DueSoonWindow:     cfg.Circulation.DueSoonWindow,
	}, nil
}

// ProvideInventoryLedger provides the available-copy ledger.
func ProvideInventoryLedger(i do.Injector) (*service.InventoryLedger, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewInventoryLedger(storeHandle.Store, log.Component("ledger")), nil
}

// ProvideQueueManager provides the waiting-list manager.
func ProvideQueueManager(i do.Injector) (*service.QueueManager, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewQueueManager(storeHandle.Store, policy.QueueHoldWindow, policy.ReservationWindow,
		log.Component("queue")), nil
}

// ProvideFineEngine provides the fine engine.
func ProvideFineEngine(i do.Injector) (*service.FineEngine, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewFineEngine(storeHandle.Store, policy.DailyFineRate, log.Component("fines")), nil
}

// ProvideCirculationService provides the loan lifecycle service.
func ProvideCirculationService(i do.Injector) (*service.CirculationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	ledger := do.MustInvoke[*service.InventoryLedger](i)
	queue := do.MustInvoke[*service.QueueManager](i)
	fines := do.MustInvoke[*service.FineEngine](i)
	dispatcher := do.MustInvoke[*notify.Dispatcher](i)
	clk := do.MustInvoke[clock.Clock](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCirculationService(storeHandle.Store, ledger, queue, fines, dispatcher, clk, policy,
		log.Component("circulation")), nil
}
