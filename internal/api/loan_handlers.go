package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/circulate/circulation-server/internal/domain"
	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

func (s *Server) registerLoanRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "requestLoan",
		Method:        http.MethodPost,
		Path:          "/api/v1/loans",
		Summary:       "Request a loan",
		Description:   "Reserves a free copy for 24 hours, or joins the item's waiting list when none is free",
		Tags:          []string{"Loans"},
		DefaultStatus: http.StatusCreated,
		Security:      []map[string][]string{{"member": {}}},
	}, s.handleRequestLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "getLoan",
		Method:      http.MethodGet,
		Path:        "/api/v1/loans/{id}",
		Summary:     "Get loan",
		Description: "Returns a loan record owned by the caller (any record for staff)",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleGetLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "listMemberLoans",
		Method:      http.MethodGet,
		Path:        "/api/v1/members/{id}/loans",
		Summary:     "List member loans",
		Description: "Returns every loan record of a member",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleListMemberLoans)

	huma.Register(s.api, huma.Operation{
		OperationID: "collectLoan",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/collect",
		Summary:     "Confirm collection",
		Description: "Staff hands the reserved copy over and the loan period starts",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleCollectLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "requestReturn",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/return-request",
		Summary:     "Request return",
		Description: "The borrower announces the copy is being brought back",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleRequestReturn)

	huma.Register(s.api, huma.Operation{
		OperationID: "confirmReturn",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/return-confirm",
		Summary:     "Confirm return",
		Description: "Staff checks the copy in; it goes to the next waiter or back on the shelf",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleConfirmReturn)

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancelReservation",
		Method:        http.MethodDelete,
		Path:          "/api/v1/loans/{id}",
		Summary:       "Cancel reservation",
		Description:   "Drops an uncollected reservation and releases its copy",
		Tags:          []string{"Loans"},
		DefaultStatus: http.StatusNoContent,
		Security:      []map[string][]string{{"member": {}}},
	}, s.handleCancelReservation)
}

// === DTOs ===

// LoanResponse is a loan record in API responses.
type LoanResponse struct {
	ID                string     `json:"id" doc:"Loan ID"`
	MemberID          string     `json:"member_id" doc:"Borrowing member"`
	ItemID            string     `json:"item_id" doc:"Catalog item"`
	Status            string     `json:"status" doc:"queued, reserved, borrowed, return_requested, returned, overdue or expired"`
	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty" doc:"Collection deadline while reserved"`
	HoldUntil         *time.Time `json:"hold_until,omitempty" doc:"Hold deadline after promotion from the queue"`
	BorrowDate        *time.Time `json:"borrow_date,omitempty" doc:"When the copy was collected"`
	DueDate           *time.Time `json:"due_date,omitempty" doc:"When the copy is due back"`
	ReturnDate        *time.Time `json:"return_date,omitempty" doc:"When the return was confirmed"`
	QueuePosition     *int       `json:"queue_position,omitempty" doc:"1-based place in the waiting list while queued"`
	CreatedAt         time.Time  `json:"created_at" doc:"Creation timestamp"`
	UpdatedAt         time.Time  `json:"updated_at" doc:"Last update timestamp"`
}

func newLoanResponse(l *domain.LoanRecord) LoanResponse {
	return LoanResponse{
		ID:                l.ID,
		MemberID:          l.MemberID,
		ItemID:            l.ItemID,
		Status:            string(l.Status),
		ReservationExpiry: l.ReservationExpiry,
		HoldUntil:         l.HoldUntil,
		BorrowDate:        l.BorrowDate,
		DueDate:           l.DueDate,
		ReturnDate:        l.ReturnDate,
		QueuePosition:     l.QueuePosition,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func newLoanResponses(loans []*domain.LoanRecord) []LoanResponse {
	out := make([]LoanResponse, len(loans))
	for i, l := range loans {
		out[i] = newLoanResponse(l)
	}
	return out
}

// LoanIDInput identifies a loan by path.
type LoanIDInput struct {
	ID string `path:"id" doc:"Loan ID"`
}

// RequestLoanRequest is the body of a loan request.
type RequestLoanRequest struct {
	ItemID   string `json:"item_id" validate:"required,prefixed=item" doc:"Catalog item to borrow"`
	MemberID string `json:"member_id,omitempty" validate:"omitempty,prefixed=mbr" doc:"Staff only: borrow on behalf of this member"`
}

// RequestLoanInput wraps the loan request for Huma.
type RequestLoanInput struct {
	Body RequestLoanRequest
}

// LoanRequestResponse reports whether the request reserved a copy or queued.
type LoanRequestResponse struct {
	Loan   LoanResponse `json:"loan"`
	Queued bool         `json:"queued" doc:"True when no copy was free and the member joined the waiting list"`
}

// RequestLoanOutput is 201 for a reservation and 202 for a queue entry.
type RequestLoanOutput struct {
	Status int
	Body   LoanRequestResponse
}

// LoanOutput wraps a single loan.
type LoanOutput struct {
	Body LoanResponse
}

// ListMemberLoansInput identifies the member.
type ListMemberLoansInput struct {
	ID string `path:"id" doc:"Member ID"`
}

// LoanListResponse is a list of loans.
type LoanListResponse struct {
	Loans []LoanResponse `json:"loans"`
}

// LoanListOutput wraps a loan list.
type LoanListOutput struct {
	Body LoanListResponse
}

// CollectLoanRequest is the optional body of a collection confirmation.
type CollectLoanRequest struct {
	LoanPeriodDays int `json:"loan_period_days,omitempty" validate:"gte=0,lte=365" doc:"Loan period in days; omitted or 0 uses the library default"`
}

// CollectLoanInput wraps a collection confirmation.
type CollectLoanInput struct {
	ID   string              `path:"id" doc:"Loan ID"`
	Body *CollectLoanRequest `required:"false"`
}

// ReturnResponse is the outcome of a confirmed return.
type ReturnResponse struct {
	Loan            LoanResponse  `json:"loan"`
	PromotedLoan    *LoanResponse `json:"promoted_loan,omitempty" doc:"The waiter who received the copy"`
	AvailableCopies *int          `json:"available_copies,omitempty" doc:"Copies on the shelf after the hand-off"`
}

// ReturnOutput wraps a return confirmation.
type ReturnOutput struct {
	Body ReturnResponse
}

// === Handlers ===

func (s *Server) handleRequestLoan(ctx context.Context, input *RequestLoanInput) (*RequestLoanOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	memberID := actor.MemberID
	if input.Body.MemberID != "" && input.Body.MemberID != actor.MemberID {
		if !actor.IsAdmin {
			return nil, domainerrors.Forbidden("only staff may borrow on behalf of another member")
		}
		memberID = input.Body.MemberID
	}

	result, err := s.services.Circulation.RequestLoan(ctx, memberID, input.Body.ItemID)
	if err != nil {
		return nil, s.failed("request loan", err)
	}

	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	return &RequestLoanOutput{
		Status: status,
		Body: LoanRequestResponse{
			Loan:   newLoanResponse(result.Loan),
			Queued: result.Queued,
		},
	}, nil
}

func (s *Server) handleGetLoan(ctx context.Context, input *LoanIDInput) (*LoanOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	loan, err := s.services.Circulation.GetLoan(ctx, input.ID, actor)
	if err != nil {
		return nil, s.failed("get loan", err)
	}
	return &LoanOutput{Body: newLoanResponse(loan)}, nil
}

func (s *Server) handleListMemberLoans(ctx context.Context, input *ListMemberLoansInput) (*LoanListOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	loans, err := s.services.Circulation.ListMemberLoans(ctx, input.ID, actor)
	if err != nil {
		return nil, s.failed("list member loans", err)
	}
	return &LoanListOutput{Body: LoanListResponse{Loans: newLoanResponses(loans)}}, nil
}

func (s *Server) handleCollectLoan(ctx context.Context, input *CollectLoanInput) (*LoanOutput, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	days := 0
	if input.Body != nil {
		if err := s.validator.Validate(input.Body); err != nil {
			return nil, err
		}
		days = input.Body.LoanPeriodDays
	}

	loan, err := s.services.Circulation.ConfirmCollection(ctx, input.ID, days)
	if err != nil {
		return nil, s.failed("confirm collection", err)
	}
	return &LoanOutput{Body: newLoanResponse(loan)}, nil
}

func (s *Server) handleRequestReturn(ctx context.Context, input *LoanIDInput) (*LoanOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	loan, err := s.services.Circulation.RequestReturn(ctx, input.ID, actor)
	if err != nil {
		return nil, s.failed("request return", err)
	}
	return &LoanOutput{Body: newLoanResponse(loan)}, nil
}

func (s *Server) handleConfirmReturn(ctx context.Context, input *LoanIDInput) (*ReturnOutput, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	result, err := s.services.Circulation.ConfirmReturn(ctx, input.ID)
	if err != nil {
		return nil, s.failed("confirm return", err)
	}

	resp := ReturnResponse{Loan: newLoanResponse(result.Loan)}
	if result.Promoted != nil {
		promoted := newLoanResponse(result.Promoted)
		resp.PromotedLoan = &promoted
	}
	if result.AvailableCopies >= 0 {
		available := result.AvailableCopies
		resp.AvailableCopies = &available
	}
	return &ReturnOutput{Body: resp}, nil
}

func (s *Server) handleCancelReservation(ctx context.Context, input *LoanIDInput) (*struct{}, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.services.Circulation.CancelReservation(ctx, input.ID, actor); err != nil {
		return nil, s.failed("cancel reservation", err)
	}
	return nil, nil
}
