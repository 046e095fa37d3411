package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// outboxBacklogWarning marks the outbox degraded once this many
// notifications are waiting.
const outboxBacklogWarning = 1000

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"database": s.checkDatabase(ctx),
		"outbox":   s.checkOutbox(ctx),
		"sse":      s.checkSSEManager(),
	}

	overall := statusHealthy
	for _, c := range components {
		switch c.Status {
		case statusUnhealthy:
			overall = statusUnhealthy
		case statusDegraded:
			if overall == statusHealthy {
				overall = statusDegraded
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkDatabase verifies the sqlite store answers.
func (s *Server) checkDatabase(ctx context.Context) ComponentHealth {
	if s.probes.Database == nil {
		return ComponentHealth{Status: statusDegraded, Message: "database not configured"}
	}

	start := time.Now()
	if err := s.probes.Database.Ping(ctx); err != nil {
		s.logger.Error("health check: database ping failed", "error", err)
		return ComponentHealth{Status: statusUnhealthy, Message: "database unreachable"}
	}
	return ComponentHealth{Status: statusHealthy, Latency: time.Since(start).String()}
}

// checkOutbox reports the notification backlog.
func (s *Server) checkOutbox(ctx context.Context) ComponentHealth {
	if s.probes.Outbox == nil {
		return ComponentHealth{Status: statusDegraded, Message: "outbox not configured"}
	}

	start := time.Now()
	pending, err := s.probes.Outbox.Len(ctx)
	if err != nil {
		s.logger.Error("health check: outbox scan failed", "error", err)
		return ComponentHealth{Status: statusUnhealthy, Message: "outbox unreadable"}
	}

	health := ComponentHealth{
		Status:  statusHealthy,
		Latency: time.Since(start).String(),
		Message: fmt.Sprintf("%d pending", pending),
	}
	if pending >= outboxBacklogWarning {
		health.Status = statusDegraded
	}
	return health
}

// checkSSEManager reports connected stream clients.
func (s *Server) checkSSEManager() ComponentHealth {
	if s.probes.Streams == nil {
		return ComponentHealth{Status: statusDegraded, Message: "event stream not configured"}
	}
	return ComponentHealth{
		Status:  statusHealthy,
		Message: fmt.Sprintf("%d clients connected", s.probes.Streams.ClientCount()),
	}
}
