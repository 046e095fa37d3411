package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
	"github.com/circulate/circulation-server/internal/service"
)

// MemberHeader carries the member id forwarded by the upstream auth layer.
const MemberHeader = "X-Member-ID"

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

// memberIDKey is the context key for the forwarded member ID.
const memberIDKey ctxKey = "memberID"

// GetMemberID returns the forwarded member ID from context.
// Returns 401 error if the request carried none.
func GetMemberID(ctx context.Context) (string, error) {
	memberID, ok := ctx.Value(memberIDKey).(string)
	if !ok || memberID == "" {
		return "", huma.Error401Unauthorized("Authentication required")
	}
	return memberID, nil
}

// setMemberID stores the member ID in context.
func setMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, memberIDKey, memberID)
}

// memberMiddleware copies the forwarded member header into the request context.
// Requests without it continue anonymously; handlers use requireActor to reject them.
func memberMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		memberID := strings.TrimSpace(r.Header.Get(MemberHeader))
		if memberID == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(setMemberID(r.Context(), memberID)))
	})
}

// requireActor resolves the calling member.
// Returns 401 if the request is anonymous or names an unknown member.
func (s *Server) requireActor(ctx context.Context) (service.Actor, error) {
	memberID, err := GetMemberID(ctx)
	if err != nil {
		return service.Actor{}, err
	}
	return s.services.Circulation.ResolveActor(ctx, memberID)
}

// requireAdmin resolves the calling member and requires the admin role.
func (s *Server) requireAdmin(ctx context.Context) (service.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return service.Actor{}, err
	}
	if !actor.IsAdmin {
		return service.Actor{}, domainerrors.Forbidden("Admin access required")
	}
	return actor, nil
}

// ActorResolver looks members up for the event stream.
type ActorResolver interface {
	ResolveActor(ctx context.Context, memberID string) (service.Actor, error)
}

// MemberIdentifier identifies event stream clients from the forwarded member header.
type MemberIdentifier struct {
	resolver ActorResolver
}

// NewMemberIdentifier creates a MemberIdentifier.
func NewMemberIdentifier(resolver ActorResolver) *MemberIdentifier {
	return &MemberIdentifier{resolver: resolver}
}

// Identify implements sse.Identifier.
func (m *MemberIdentifier) Identify(r *http.Request) (string, bool, error) {
	memberID := strings.TrimSpace(r.Header.Get(MemberHeader))
	if memberID == "" {
		return "", false, domainerrors.Unauthorized("Authentication required")
	}
	actor, err := m.resolver.ResolveActor(r.Context(), memberID)
	if err != nil {
		return "", false, err
	}
	return actor.MemberID, actor.IsAdmin, nil
}
