package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/circulate/circulation-server/internal/service"
)

func (s *Server) registerMaintenanceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "runSweep",
		Method:      http.MethodPost,
		Path:        "/api/v1/maintenance/sweep",
		Summary:     "Run maintenance sweep",
		Description: "Marks overdue loans, expires stale reservations, issues fines and reconciles stranded queues now instead of waiting for the schedule",
		Tags:        []string{"Maintenance"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleRunSweep)

	huma.Register(s.api, huma.Operation{
		OperationID: "sendReminders",
		Method:      http.MethodPost,
		Path:        "/api/v1/maintenance/reminders",
		Summary:     "Send reminders",
		Description: "Sends due-soon reminders and overdue alerts now",
		Tags:        []string{"Maintenance"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleSendReminders)
}

// SweepOutput wraps a sweep result for Huma.
type SweepOutput struct {
	Body service.SweepResult
}

// RemindersResponse counts the notices queued.
type RemindersResponse struct {
	DueSoon int `json:"due_soon" doc:"Due-soon reminders sent"`
	Overdue int `json:"overdue" doc:"Overdue alerts sent"`
}

// RemindersOutput wraps the reminder counts for Huma.
type RemindersOutput struct {
	Body RemindersResponse
}

func (s *Server) handleRunSweep(ctx context.Context, _ *struct{}) (*SweepOutput, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	result := s.services.Maintenance.RunSweep(ctx)
	s.logger.Info("manual sweep", "member_id", actor.MemberID, "overdue", result.Overdue,
		"expired", result.Expired, "fines", result.Fines, "failed", result.Failed)
	return &SweepOutput{Body: result}, nil
}

func (s *Server) handleSendReminders(ctx context.Context, _ *struct{}) (*RemindersOutput, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	return &RemindersOutput{
		Body: RemindersResponse{
			DueSoon: s.services.Maintenance.SendDueReminders(ctx),
			Overdue: s.services.Maintenance.SendOverdueAlerts(ctx),
		},
	}, nil
}
