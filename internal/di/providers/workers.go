package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/logger"
	"github.com/circulate/circulation-server/internal/notify"
	"github.com/circulate/circulation-server/internal/service"
	"github.com/circulate/circulation-server/internal/sse"
)

// RelayHandle wraps the notification relay with shutdown capability.
type RelayHandle struct {
	*notify.Relay
}

// Shutdown implements do.Shutdownable.
func (h *RelayHandle) Shutdown() error {
	h.Relay.Stop()
	return nil
}

// ProvideRelay provides the outbox relay, delivering to event streams and the log.
func ProvideRelay(i do.Injector) (*RelayHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	clk := do.MustInvoke[clock.Clock](i)
	box := do.MustInvoke[*OutboxHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	sinks := []notify.Sink{
		notify.NewSSESink(sseHandle.Manager),
		notify.NewLogSink(log.Component("mail")),
	}

	relay := notify.NewRelay(box.Outbox, sinks, clk, notify.RelayConfig{
		Interval:      cfg.Notify.RelayInterval,
		MaxAttempts:   cfg.Notify.MaxAttempts,
		RatePerSecond: cfg.Notify.RatePerSecond,
		Burst:         cfg.Notify.Burst,
	}, log.Component("relay"))

	relay.Start(context.Background())

	return &RelayHandle{Relay: relay}, nil
}

// ProvideDispatcher provides the notifier handed to the circulation services.
func ProvideDispatcher(i do.Injector) (*notify.Dispatcher, error) {
	log := do.MustInvoke[*logger.Logger](i)
	box := do.MustInvoke[*OutboxHandle](i)
	relay := do.MustInvoke[*RelayHandle](i)

	return notify.NewDispatcher(box.Outbox, relay.Relay, log.Component("notify")), nil
}

// SchedulerHandle wraps the maintenance scheduler with shutdown capability.
type SchedulerHandle struct {
	*service.MaintenanceScheduler
}

// Shutdown implements do.Shutdownable.
func (h *SchedulerHandle) Shutdown() error {
	h.MaintenanceScheduler.Stop()
	return nil
}

// ProvideMaintenanceScheduler provides the background maintenance scheduler.
// Completed sweeps that changed something are announced to staff streams.
func ProvideMaintenanceScheduler(i do.Injector) (*SchedulerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	clk := do.MustInvoke[clock.Clock](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	dispatcher := do.MustInvoke[*notify.Dispatcher](i)
	ledger := do.MustInvoke[*service.InventoryLedger](i)
	queue := do.MustInvoke[*service.QueueManager](i)
	fines := do.MustInvoke[*service.FineEngine](i)

	scheduler := service.NewMaintenanceScheduler(storeHandle.Store, ledger, queue, fines, dispatcher, clk,
		service.MaintenanceConfig{
			SweepInterval:    cfg.Maintenance.SweepInterval,
			ExpiryInterval:   cfg.Maintenance.ExpiryInterval,
			ReminderInterval: cfg.Maintenance.ReminderInterval,
			DueSoonWindow:    cfg.Circulation.DueSoonWindow,
		}, log.Component("maintenance"))

	scheduler.SetSweepObserver(func(res service.SweepResult) {
		if res.IsZero() {
			return
		}
		sseHandle.Emit(sse.NewSweepCompletedEvent(sse.SweepCompletedData(res), clk.Now()))
	})

	scheduler.Start(context.Background())

	return &SchedulerHandle{MaintenanceScheduler: scheduler}, nil
}
