package server_test

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/custody"
	"Parimutuel/internal/event"
	"Parimutuel/internal/ingestion"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/query"
	"Parimutuel/internal/server"
	"Parimutuel/internal/testutil"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type stubHandler struct {
	err  error
	seen []*event.Command
}

func (h *stubHandler) Process(_ context.Context, cmd *event.Command) error {
	h.seen = append(h.seen, cmd)
	return h.err
}

type harness struct {
	srv     *server.GRPCServer
	handler *stubHandler
	conn    *grpc.ClientConn
}

func newHarness(t *testing.T, ratePerSecond float64) *harness {
	t.Helper()
	db := testutil.SetupSQLite(t)
	writer := persistence.NewEventLogWriter(db, persistence.DialectSQLite)

	book := custody.NewBook(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) })
	book.OnBatch(func(b *ledger.Batch) {
		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, writer.WriteJournalBatch(context.Background(), persistence.JournalRowsFromBatch(b), tx))
		require.NoError(t, tx.Commit())
	})

	handler := &stubHandler{}
	ingest := ingestion.NewRPCIngestService(handler, custody.NewWallets(book), custody.NewTreasury("treasury-authority", book))
	queries := query.NewQueryService(db, persistence.DialectSQLite, persistence.NewMemoryStore(), nil)

	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Service:       server.NewMarketService(ingest, queries, nil, nil),
		Logger:        zerolog.Nop(),
		RatePerSecond: ratePerSecond,
		RateBurst:     1,
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})

	return &harness{srv: srv, handler: handler, conn: conn}
}

func (h *harness) invoke(method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.conn.Invoke(ctx, server.FullMethod(method), req, resp)
}

// ============================================================================
// Test: gRPC surface
// ============================================================================

func TestSubmitCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantMsg  string
	}{
		{"applied", nil, codes.OK, ""},
		{"state mismatch", market.ErrBettingClosed, codes.FailedPrecondition, "BettingClosed: "},
		{"double action", market.ErrAlreadyVoted, codes.AlreadyExists, "AlreadyVoted: "},
		{"capacity", market.ErrMaxWagersReached, codes.ResourceExhausted, "MaxWagersReached: "},
		{"external", fmt.Errorf("%w: reimburse: rpc timeout", market.ErrExternalCall), codes.Unavailable, "ExternalCall: "},
		{"unknown market", market.ErrMarketNotFound, codes.NotFound, "MarketNotFound"},
		{"invalid", fmt.Errorf("%w: token required", core.ErrInvalidCommand), codes.InvalidArgument, "invalid command"},
		{"foreign", fmt.Errorf("disk on fire"), codes.Internal, "disk on fire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.handler.err = tt.err

			var resp server.SubmitCommandResponse
			err := h.invoke("SubmitCommand", &event.Command{
				Operation:   event.OpWager,
				Token:       "TOKEN",
				Facet:       "truthfulness",
				Participant: "alice",
				Amount:      10,
			}, &resp)

			st := status.Convert(err)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.True(t, strings.HasPrefix(st.Message(), tt.wantMsg), "message %q", st.Message())
			require.Len(t, h.handler.seen, 1)
			assert.NotEmpty(t, h.handler.seen[0].CommandID)
			if tt.err == nil {
				assert.Equal(t, h.handler.seen[0].CommandID, resp.CommandID)
			}
		})
	}
}

func TestFundParticipant_ValidatesRequest(t *testing.T) {
	h := newHarness(t, 0)

	var resp server.FundParticipantResponse
	err := h.invoke("FundParticipant", &server.FundParticipantRequest{Participant: "alice", Asset: "BTC", Amount: 5}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = h.invoke("FundParticipant", &server.FundParticipantRequest{Participant: "alice", Asset: "SOL"}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, h.invoke("FundParticipant", &server.FundParticipantRequest{Participant: "alice", Asset: "SOL", Amount: 5}, &resp))
	assert.True(t, strings.HasPrefix(resp.Ref, "fund:"))

	var bal query.BalanceResponse
	require.NoError(t, h.invoke("GetBalance", &server.GetBalanceRequest{Participant: "alice"}, &bal))
	assert.Equal(t, int64(5), bal.SOL)
}

func TestGetMarket_NotFound(t *testing.T) {
	h := newHarness(t, 0)
	var resp query.MarketResponse
	err := h.invoke("GetMarket", &server.GetMarketRequest{Token: "NOPE"}, &resp)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestAdmin_UnconfiguredCalls(t *testing.T) {
	h := newHarness(t, 0)
	var snap server.TakeSnapshotResponse
	assert.Equal(t, codes.Unimplemented, status.Code(h.invoke("TakeSnapshot", &server.Empty{}, &snap)))

	var info query.EventLogInfo
	require.NoError(t, h.invoke("GetEventLogInfo", &server.Empty{}, &info))
	assert.Equal(t, int64(0), info.EventCount)
}

func TestRateLimit_PerParticipant(t *testing.T) {
	h := newHarness(t, 0.001)
	req := func(who string) *server.FundParticipantRequest {
		return &server.FundParticipantRequest{Participant: who, Asset: "VOTE", Amount: 1}
	}
	var resp server.FundParticipantResponse

	require.NoError(t, h.invoke("FundParticipant", req("alice"), &resp))
	err := h.invoke("FundParticipant", req("alice"), &resp)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other participants keep their own bucket
	require.NoError(t, h.invoke("FundParticipant", req("bob"), &resp))

	// calls without a participant are not limited
	var info query.EventLogInfo
	require.NoError(t, h.invoke("GetEventLogInfo", &server.Empty{}, &info))
	require.NoError(t, h.invoke("GetEventLogInfo", &server.Empty{}, &info))
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 0)
	client := healthpb.NewHealthClient(h.conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	h.srv.SetServing(true)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

// ============================================================================
// Test: HTTP gateway
// ============================================================================

func TestGateway_Routes(t *testing.T) {
	h := newHarness(t, 0)
	handler, err := h.srv.HTTPHandler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/participants/carol/fund", "application/json",
		strings.NewReader(`{"asset":"SOL","amount":250}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/participants/carol/balance")
	require.NoError(t, err)
	var bal query.BalanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bal))
	resp.Body.Close()
	assert.Equal(t, "carol", bal.Participant)
	assert.Equal(t, int64(250), bal.SOL)

	resp, err = http.Get(ts.URL + "/v1/participants/carol/journals?page_size=10")
	require.NoError(t, err)
	var journals server.JournalsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&journals))
	resp.Body.Close()
	require.Len(t, journals.Journals, 1)
	assert.Equal(t, "fund", journals.Journals[0].JournalType)

	resp, err = http.Post(ts.URL+"/v1/commands", "application/json",
		strings.NewReader(`{"operation":"wager","token":"T","facet":"truthfulness","participant":"carol","amount":1,"leverage":5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.handler.seen)
}

func TestGateway_Errors(t *testing.T) {
	h := newHarness(t, 0)
	handler, err := h.srv.HTTPHandler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	tests := []struct {
		method, path string
		wantStatus   int
		wantCode     string
	}{
		{"GET", "/v1/markets/NOPE", http.StatusNotFound, "NotFound"},
		{"GET", "/v1/markets/T/rounds/abc", http.StatusBadRequest, "InvalidArgument"},
		{"GET", "/v1/markets/T/rounds/0", http.StatusBadRequest, "InvalidArgument"},
		{"POST", "/v1/admin/snapshots", http.StatusNotImplemented, "Unimplemented"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}
