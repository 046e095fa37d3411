package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/circulate/circulation-server/internal/api"
	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/config"
	"github.com/circulate/circulation-server/internal/logger"
	"github.com/circulate/circulation-server/internal/ratelimit"
	"github.com/circulate/circulation-server/internal/service"
	"github.com/circulate/circulation-server/internal/sse"
)

// limiterIdleTTL is how long a silent client keeps its rate limit bucket.
const limiterIdleTTL = 10 * time.Minute

// RateLimiterHandle wraps the per-IP limiter with shutdown capability.
type RateLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	if h.KeyedRateLimiter != nil {
		h.Stop()
	}
	return nil
}

// ProvideRateLimiter provides the per-IP request limiter.
// A non-positive budget disables limiting.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	clk := do.MustInvoke[clock.Clock](i)

	if cfg.Server.RateLimit <= 0 {
		return &RateLimiterHandle{}, nil
	}
	return &RateLimiterHandle{
		KeyedRateLimiter: ratelimit.New(ratelimit.PerMinute(cfg.Server.RateLimit, limiterIdleTTL), clk),
	}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	outboxHandle := do.MustInvoke[*OutboxHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)
	circulation := do.MustInvoke[*service.CirculationService](i)
	scheduler := do.MustInvoke[*SchedulerHandle](i)

	sseHandler := sse.NewHandler(sseHandle.Manager, api.NewMemberIdentifier(circulation), log.Component("sse"))

	services := &api.Services{
		Circulation: circulation,
		Maintenance: scheduler.MaintenanceScheduler,
	}

	probes := api.Probes{
		Database: storeHandle.Store,
		Outbox:   outboxHandle.Outbox,
		Streams:  sseHandle.Manager,
	}

	handler := api.NewServer(services, probes, sseHandler, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Limiter:     limiter.KeyedRateLimiter,
	}, log.Component("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
