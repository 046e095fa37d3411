package api

import (
	"context"

	"github.com/circulate/circulation-server/internal/service"
)

// Services groups the business logic used by the API server.
type Services struct {
	Circulation *service.CirculationService
	Maintenance *service.MaintenanceScheduler
}

// Probes are the components the health check inspects. A nil probe is
// reported as not configured.
type Probes struct {
	Database Pinger
	Outbox   BacklogReporter
	Streams  ClientCounter
}

// Pinger is implemented by the sqlite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BacklogReporter is implemented by the notification outbox.
type BacklogReporter interface {
	Len(ctx context.Context) (int, error)
}

// ClientCounter is implemented by the SSE manager.
type ClientCounter interface {
	ClientCount() int
}
