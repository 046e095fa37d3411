// Package di provides dependency injection configuration for the circulation server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/di/providers"
	"github.com/circulate/circulation-server/internal/logger"
	"github.com/circulate/circulation-server/internal/notify"
	"github.com/circulate/circulation-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
// Configuration is loaded from flags, the environment and .env.
func NewContainer() *do.RootScope {
	injector := do.New()
	do.Provide(injector, providers.ProvideConfig)
	register(injector)
	return injector
}

// NewContainerWithConfig creates a container around an already loaded configuration.
func NewContainerWithConfig(cfg *config.Config) *do.RootScope {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	register(injector)
	return injector
}

func register(injector do.Injector) {
	// Core infrastructure
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideClock)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideOutbox)

	// Notification delivery
	do.Provide(injector, providers.ProvideRelay)
	do.Provide(injector, providers.ProvideDispatcher)

	// Business services
	do.Provide(injector, providers.ProvidePolicy)
	do.Provide(injector, providers.ProvideInventoryLedger)
	do.Provide(injector, providers.ProvideQueueManager)
	do.Provide(injector, providers.ProvideFineEngine)
	do.Provide(injector, providers.ProvideCirculationService)

	// Workers
	do.Provide(injector, providers.ProvideMaintenanceScheduler)

	// Server
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)
}

// Bootstrap initializes all services and starts the background workers
// and the HTTP listener.
func Bootstrap(injector do.Injector) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[clock.Clock](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)

	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.OutboxHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[service.Policy](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*providers.RelayHandle](injector)
	_ = do.MustInvoke[*notify.Dispatcher](injector)
	_ = do.MustInvoke[*service.CirculationService](injector)

	// Workers
	_ = do.MustInvoke[*providers.SchedulerHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
