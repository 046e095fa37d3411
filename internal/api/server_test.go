package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/id"
	"github.com/circulate/circulation-server/internal/service"
	"github.com/circulate/circulation-server/internal/sse"
	"github.com/circulate/circulation-server/internal/store/sqlite"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// testServer wraps the API server with direct access to its backing store.
type testServer struct {
	*Server
	api     humatest.TestAPI
	store   *sqlite.Store
	clock   *clock.Fake
	streams *sse.Manager
}

// testEnvelope decodes a successful response.
type testEnvelope[T any] struct {
	V       int    `json:"v"`
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

// testErrorEnvelope decodes a coded error response.
type testErrorEnvelope struct {
	V       int    `json:"v"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

// setupTestServer creates a test server over a fresh sqlite database.
// opts adjust the server options before construction.
func setupTestServer(t *testing.T, opts ...func(*Options)) *testServer {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewFake(testNow)
	st.SetNow(clk.Now)

	logger := slog.New(slog.DiscardHandler)
	policy := service.DefaultPolicy()
	notifier := service.NoopNotifier{}

	ledger := service.NewInventoryLedger(st, logger)
	queue := service.NewQueueManager(st, policy.QueueHoldWindow, policy.ReservationWindow, logger)
	fines := service.NewFineEngine(st, policy.DailyFineRate, logger)
	circulation := service.NewCirculationService(st, ledger, queue, fines, notifier, clk, policy, logger)
	scheduler := service.NewMaintenanceScheduler(st, ledger, queue, fines, notifier, clk, service.MaintenanceConfig{
		SweepInterval:    2 * time.Hour,
		ExpiryInterval:   time.Hour,
		ReminderInterval: 24 * time.Hour,
		DueSoonWindow:    policy.DueSoonWindow,
	}, logger)

	streams := sse.NewManager(logger)
	sseHandler := sse.NewHandler(streams, NewMemberIdentifier(circulation), logger)

	var o Options
	for _, fn := range opts {
		fn(&o)
	}

	server := NewServer(
		&Services{Circulation: circulation, Maintenance: scheduler},
		Probes{Database: st, Streams: streams},
		sseHandler,
		o,
		logger,
	)

	return &testServer{
		Server:  server,
		api:     humatest.Wrap(t, server.API()),
		store:   st,
		clock:   clk,
		streams: streams,
	}
}

func (ts *testServer) member(t *testing.T) string {
	t.Helper()
	return ts.createMember(t, domain.RoleMember, domain.StandingApproved)
}

func (ts *testServer) admin(t *testing.T) string {
	t.Helper()
	return ts.createMember(t, domain.RoleAdmin, domain.StandingApproved)
}

func (ts *testServer) createMember(t *testing.T, role domain.Role, standing domain.Standing) string {
	t.Helper()
	memberID := id.MustGenerate(id.PrefixMember)
	require.NoError(t, ts.store.CreateMember(context.Background(), &domain.Member{
		ID:        memberID,
		Name:      "Member " + memberID,
		Email:     memberID + "@example.org",
		Role:      role,
		Standing:  standing,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}))
	return memberID
}

func (ts *testServer) item(t *testing.T, copies int) string {
	t.Helper()
	itemID := id.MustGenerate(id.PrefixItem)
	require.NoError(t, ts.store.CreateItem(context.Background(),
		domain.NewCatalogItem(itemID, "Title "+itemID, "Author", copies, testNow)))
	return itemID
}

// as returns the member header argument for humatest requests.
func as(memberID string) string {
	return fmt.Sprintf("%s: %s", MemberHeader, memberID)
}

// requestLoan posts a loan request and returns the decoded result.
func (ts *testServer) requestLoan(t *testing.T, memberID, itemID string) LoanRequestResponse {
	t.Helper()
	resp := ts.api.Post("/api/v1/loans", as(memberID), map[string]any{"item_id": itemID})
	require.Contains(t, []int{201, 202}, resp.Code, resp.Body.String())
	return decode[LoanRequestResponse](t, resp)
}

// borrow reserves and collects itemID for memberID.
func (ts *testServer) borrow(t *testing.T, adminID, memberID, itemID string, days int) LoanResponse {
	t.Helper()
	res := ts.requestLoan(t, memberID, itemID)
	require.False(t, res.Queued)

	resp := ts.api.Post("/api/v1/loans/"+res.Loan.ID+"/collect", as(adminID),
		map[string]any{"loan_period_days": days})
	require.Equal(t, 200, resp.Code, resp.Body.String())
	return decode[LoanResponse](t, resp)
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	require.True(t, env.Success, resp.Body.String())
	require.Equal(t, 1, env.V)
	return env.Data
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) testErrorEnvelope {
	t.Helper()
	var env testErrorEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	require.False(t, env.Success)
	return env
}
