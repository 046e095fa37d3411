package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/circulate/circulation-server/internal/domain"
)

func (s *Server) registerFineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listMemberFines",
		Method:      http.MethodGet,
		Path:        "/api/v1/members/{id}/fines",
		Summary:     "List member fines",
		Description: "Returns a member's fines and the unpaid total",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleListMemberFines)

	huma.Register(s.api, huma.Operation{
		OperationID: "payFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines/{id}/pay",
		Summary:     "Pay fine",
		Description: "Staff records payment of a fine",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handlePayFine)
}

// FineResponse is a fine record in API responses. Amounts are decimal strings.
type FineResponse struct {
	ID          string     `json:"id" doc:"Fine ID"`
	LoanID      string     `json:"loan_id" doc:"Overdue loan"`
	ItemID      string     `json:"item_id" doc:"Catalog item"`
	Amount      string     `json:"amount" doc:"Amount owed, fixed when the fine was issued"`
	DaysOverdue int        `json:"days_overdue" doc:"Whole days late at issue time"`
	DueDate     time.Time  `json:"due_date" doc:"Due date of the loan"`
	IsPaid      bool       `json:"is_paid" doc:"Whether the fine is settled"`
	PaidAt      *time.Time `json:"paid_at,omitempty" doc:"When the fine was settled"`
	CreatedAt   time.Time  `json:"created_at" doc:"Issue timestamp"`
}

func newFineResponse(f *domain.FineRecord) FineResponse {
	return FineResponse{
		ID:          f.ID,
		LoanID:      f.LoanID,
		ItemID:      f.ItemID,
		Amount:      f.Amount.StringFixed(2),
		DaysOverdue: f.DaysOverdue,
		DueDate:     f.DueDate,
		IsPaid:      f.IsPaid,
		PaidAt:      f.PaidAt,
		CreatedAt:   f.CreatedAt,
	}
}

// MemberFinesInput identifies the member.
type MemberFinesInput struct {
	ID string `path:"id" doc:"Member ID"`
}

// MemberFinesResponse lists fines with the outstanding balance.
type MemberFinesResponse struct {
	Fines       []FineResponse `json:"fines"`
	UnpaidTotal string         `json:"unpaid_total" doc:"Sum of unpaid fines"`
}

// MemberFinesOutput wraps the fines list for Huma.
type MemberFinesOutput struct {
	Body MemberFinesResponse
}

// PayFineInput identifies the fine.
type PayFineInput struct {
	ID string `path:"id" doc:"Fine ID"`
}

// FineOutput wraps a single fine.
type FineOutput struct {
	Body FineResponse
}

func (s *Server) handleListMemberFines(ctx context.Context, input *MemberFinesInput) (*MemberFinesOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	fines, err := s.services.Circulation.ListMemberFines(ctx, input.ID, actor)
	if err != nil {
		return nil, s.failed("list member fines", err)
	}

	unpaid := decimal.Zero
	out := make([]FineResponse, len(fines))
	for i, f := range fines {
		out[i] = newFineResponse(f)
		if !f.IsPaid {
			unpaid = unpaid.Add(f.Amount)
		}
	}

	return &MemberFinesOutput{
		Body: MemberFinesResponse{Fines: out, UnpaidTotal: unpaid.StringFixed(2)},
	}, nil
}

func (s *Server) handlePayFine(ctx context.Context, input *PayFineInput) (*FineOutput, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	fine, err := s.services.Circulation.PayFine(ctx, input.ID)
	if err != nil {
		return nil, s.failed("pay fine", err)
	}
	return &FineOutput{Body: newFineResponse(fine)}, nil
}
