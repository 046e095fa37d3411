// Package providers contains dependency injection providers for the circulation server.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting circulation server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Data.BasePath,
	)

	return log, nil
}

// ProvideClock provides the wall clock shared by every time-based component.
func ProvideClock(i do.Injector) (clock.Clock, error) {
	return clock.New(), nil
}
