package di

import (
	"context"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/di/providers"
	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.AppConfig{Environment: "development"},
		Logger: config.LoggerConfig{Level: "error"},
		Data:   config.DataConfig{BasePath: t.TempDir()},
		Server: config.ServerConfig{
			Port:         "0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			IdleTimeout:  time.Second,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
		},
		Circulation: config.CirculationConfig{
			ReservationWindow: 24 * time.Hour,
			QueueHoldWindow:   48 * time.Hour,
			DefaultLoanDays:   14,
			MaxActiveLoans:    3,
			DailyFineRate:     "2.50",
			DueSoonWindow:     72 * time.Hour,
		},
		Maintenance: config.MaintenanceConfig{
			SweepInterval:    time.Hour,
			ExpiryInterval:   time.Hour,
			ReminderInterval: time.Hour,
		},
		Notify: config.NotifyConfig{
			RelayInterval: time.Second,
			MaxAttempts:   3,
			RatePerSecond: 10,
			Burst:         10,
		},
	}
}

func TestBootstrap_WiresTheServer(t *testing.T) {
	injector := NewContainerWithConfig(testConfig(t))
	require.NoError(t, Bootstrap(injector))
	t.Cleanup(func() { _ = injector.Shutdown() })

	policy := do.MustInvoke[service.Policy](injector)
	assert.Equal(t, "2.5", policy.DailyFineRate.String())
	assert.Equal(t, 14, policy.DefaultLoanDays)

	storeHandle := do.MustInvoke[*providers.StoreHandle](injector)
	require.NoError(t, storeHandle.Ping(context.Background()))

	server := do.MustInvoke[*providers.HTTPServerHandle](injector)
	assert.Equal(t, ":0", server.Addr)

	limiter := do.MustInvoke[*providers.RateLimiterHandle](injector)
	assert.NotNil(t, limiter.KeyedRateLimiter)
}

func TestBootstrap_NotificationsReachTheOutbox(t *testing.T) {
	injector := NewContainerWithConfig(testConfig(t))
	require.NoError(t, Bootstrap(injector))
	t.Cleanup(func() { _ = injector.Shutdown() })

	ctx := context.Background()
	storeHandle := do.MustInvoke[*providers.StoreHandle](injector)
	circulation := do.MustInvoke[*service.CirculationService](injector)

	now := time.Now().UTC()
	require.NoError(t, storeHandle.CreateMember(ctx, &domain.Member{
		ID:        "mbr-di",
		Name:      "Wired Member",
		Email:     "wired@example.org",
		Role:      domain.RoleMember,
		Standing:  domain.StandingApproved,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, storeHandle.CreateItem(ctx, domain.NewCatalogItem("item-di", "Wiring", "Someone", 1, now)))

	res, err := circulation.RequestLoan(ctx, "mbr-di", "item-di")
	require.NoError(t, err)
	require.False(t, res.Queued)

	_, err = circulation.ConfirmCollection(ctx, res.Loan.ID, 0)
	require.NoError(t, err)

	// The relay drains the borrow confirmation into its sinks.
	box := do.MustInvoke[*providers.OutboxHandle](injector)
	assert.Eventually(t, func() bool {
		n, err := box.Len(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	dead, err := box.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestBootstrap_RejectsBadFineRate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Circulation.DailyFineRate = "ten"

	injector := NewContainerWithConfig(cfg)
	t.Cleanup(func() { _ = injector.Shutdown() })

	err := Bootstrap(injector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily fine rate")
}
