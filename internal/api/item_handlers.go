package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerItemRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getItemAvailability",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{id}/availability",
		Summary:     "Get item availability",
		Description: "Returns copy counters and the waiting list for a catalog item",
		Tags:        []string{"Items"},
		Security:    []map[string][]string{{"member": {}}},
	}, s.handleItemAvailability)
}

// ItemAvailabilityInput identifies the item.
type ItemAvailabilityInput struct {
	ID string `path:"id" doc:"Catalog item ID"`
}

// QueueEntryResponse is one place in an item's waiting list. Other members'
// identities are only shown to staff.
type QueueEntryResponse struct {
	Position int    `json:"position" doc:"1-based place in line"`
	LoanID   string `json:"loan_id,omitempty" doc:"Queue entry ID (own entries and staff only)"`
	MemberID string `json:"member_id,omitempty" doc:"Waiting member (staff only)"`
	Mine     bool   `json:"mine" doc:"True for the caller's own entry"`
}

// ItemAvailabilityResponse contains item counters in API responses.
type ItemAvailabilityResponse struct {
	ItemID          string               `json:"item_id" doc:"Catalog item ID"`
	Title           string               `json:"title" doc:"Item title"`
	Author          string               `json:"author,omitempty" doc:"Item author"`
	TotalCopies     int                  `json:"total_copies" doc:"Copies the library owns"`
	AvailableCopies int                  `json:"available_copies" doc:"Copies on the shelf"`
	Queue           []QueueEntryResponse `json:"queue" doc:"Waiting list in order"`
}

// ItemAvailabilityOutput wraps the availability response for Huma.
type ItemAvailabilityOutput struct {
	Body ItemAvailabilityResponse
}

func (s *Server) handleItemAvailability(ctx context.Context, input *ItemAvailabilityInput) (*ItemAvailabilityOutput, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	availability, err := s.services.Circulation.ItemAvailability(ctx, input.ID)
	if err != nil {
		return nil, s.failed("item availability", err)
	}

	queue := make([]QueueEntryResponse, 0, len(availability.Queue))
	for i, entry := range availability.Queue {
		position := i + 1
		if entry.QueuePosition != nil {
			position = *entry.QueuePosition
		}
		qe := QueueEntryResponse{Position: position, Mine: entry.MemberID == actor.MemberID}
		if qe.Mine || actor.IsAdmin {
			qe.LoanID = entry.ID
		}
		if actor.IsAdmin {
			qe.MemberID = entry.MemberID
		}
		queue = append(queue, qe)
	}

	item := availability.Item
	return &ItemAvailabilityOutput{
		Body: ItemAvailabilityResponse{
			ItemID:          item.ID,
			Title:           item.Title,
			Author:          item.Author,
			TotalCopies:     item.TotalCopies,
			AvailableCopies: item.AvailableCopies,
			Queue:           queue,
		},
	}, nil
}
