package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/league-engine/internal/access"
	"github.com/atmx/league-engine/internal/api"
	"github.com/atmx/league-engine/internal/delegation"
	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/league"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/oracle"
	"github.com/atmx/league-engine/internal/store"
	"github.com/atmx/league-engine/internal/token"
)

const solFeed = "feed-sol"

type testEnv struct {
	router chi.Router
	feed   *oracle.StaticFeed
	hub    *api.WSHub
}

// newTestEnv wires a handler over in-memory layers with immediate
// delegation.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := api.NewWSHub()
	bs, rs := store.NewMemoryStore(), store.NewMemoryStore()
	base := executor.New(executor.Base, bs, executor.WithPublisher(hub))
	rollup := executor.New(executor.Rollup, rs,
		executor.WithFallback(bs), executor.WithValidator("v1"), executor.WithPublisher(hub))

	feed := oracle.NewStaticFeed()
	feed.Set(solFeed, 15_000_000_000, -8)
	tokens := token.NewMemoryLedger()
	tokens.Mint("USDC", "bob", 5_000)

	svc := league.NewService(
		delegation.NewRouter(base, rollup),
		delegation.NewCoordinator(base, rollup, 0, hub),
		oracle.NewReader(feed, 0),
		tokens, access.NewGroupRegistry(), league.Policy{},
	)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		api.NewHandler(svc).Routes(r)
	})
	return &testEnv{router: r, feed: feed, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, signer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if signer != "" {
		req.Header.Set("X-Signer", signer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seed initializes the program, lists SOL and starts league alice/L1.
func (e *testEnv) seed(t *testing.T) string {
	t.Helper()
	now := time.Now().Unix()
	steps := []struct {
		method, path, signer string
		body                 any
	}{
		{"POST", "/api/v1/config", "admin", api.ConfigRequest{Treasury: "treasury", FeeBps: 500}},
		{"POST", "/api/v1/markets", "admin", league.MarketParams{Symbol: "SOL/USD", PriceFeed: solFeed, Decimals: 6, MaxLeverage: 20}},
		{"POST", "/api/v1/leagues", "alice", league.CreateParams{
			ID: "L1", Markets: []string{solFeed}, EntryTokenMint: "USDC", EntryAmount: 100,
			VirtualDeposit: 10_000_000_000, StartTS: now + 60, EndTS: now + 3600, K: 5,
		}},
		{"POST", "/api/v1/leagues/alice/L1/start", "alice", nil},
		{"POST", "/api/v1/leagues/alice/L1/join", "bob", nil},
	}
	for _, s := range steps {
		w := e.do(t, s.method, s.path, s.signer, s.body)
		require.Less(t, w.Code, 300, "%s %s: %s", s.method, s.path, w.Body.String())
	}
	return model.LeagueKey("alice", "L1")
}

func TestCreateMarket_RequiresSigner(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/markets", "", league.MarketParams{Symbol: "SOL/USD", PriceFeed: solFeed})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateMarket_LogsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	e := newTestEnv(t)
	e.seed(t)
	require.Equal(t, 1, strings.Count(buf.String(), "market listed"), buf.String())
}

func TestCreateMarket_NotAdmin(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	w := e.do(t, "POST", "/api/v1/markets", "bob", league.MarketParams{Symbol: "ETH/USD", PriceFeed: "feed-eth", Decimals: 8, MaxLeverage: 5})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMarket_NotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/markets/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestLeague_GetAndList(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, "GET", "/api/v1/leagues/alice/L1", "", nil)
	require.Equal(http.StatusOK, w.Code, w.Body.String())
	var l model.League
	require.NoError(json.Unmarshal(w.Body.Bytes(), &l))
	require.Equal(model.LeagueActive, l.Status)
	require.Equal(uint32(1), l.ParticipantCount)

	w = e.do(t, "GET", "/api/v1/leagues?creator=alice", "", nil)
	require.Equal(http.StatusOK, w.Code)
	var ls []model.League
	require.NoError(json.Unmarshal(w.Body.Bytes(), &ls))
	require.Len(ls, 1)

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/join", "bob", nil)
	require.Equal(http.StatusConflict, w.Code, "second join")
}

func TestTradeFlow(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, "POST", "/api/v1/leagues/alice/L1/positions", "bob", api.InitPositionRequest{Seq: 1, PriceFeed: solFeed})
	require.Equal(http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/open", "bob", api.OpenRequest{Direction: "sideways", Size: 1_000_000, Leverage: 10})
	require.Equal(http.StatusBadRequest, w.Code)
	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/open", "bob", api.OpenRequest{Direction: "long", Size: 1_000_000, Leverage: 50})
	require.Equal(http.StatusBadRequest, w.Code, "over the market leverage cap")
	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/open", "bob", api.OpenRequest{Direction: "long", Size: 1_000_000, Leverage: 10})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	e.feed.Set(solFeed, 16_000_000_000, -8)
	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/participants/bob/update", "", api.UpdateRequest{
		Positions: []league.PositionRef{{Seq: 1, Feed: solFeed}},
	})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, "GET", "/api/v1/leagues/alice/L1/participants/bob", "", nil)
	require.Equal(http.StatusOK, w.Code)
	var p api.Portfolio
	require.NoError(json.Unmarshal(w.Body.Bytes(), &p))
	require.True(p.Equity.Equal(decimal.NewFromInt(9995)), "equity %s", p.Equity)
	require.True(p.UnrealizedPnL.Equal(decimal.NewFromInt(10)))
	require.True(p.MarginUtilization.Equal(decimal.RequireFromString("0.15")), "utilization %s", p.MarginUtilization)
	require.Equal([]uint64{1}, p.OpenPositions)

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/leaderboard/bob", "", nil)
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/close", "bob", nil)
	require.Equal(http.StatusOK, w.Code, w.Body.String())
	var cr api.CloseResponse
	require.NoError(json.Unmarshal(w.Body.Bytes(), &cr))
	require.True(cr.Full)
	require.True(cr.RealizedPnL.Equal(decimal.NewFromInt(10)))
	require.Equal(executor.Base, cr.Layer)

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/close", "bob", nil)
	require.Equal(http.StatusConflict, w.Code)

	w = e.do(t, "GET", "/api/v1/leagues/alice/L1/leaderboard", "", nil)
	require.Equal(http.StatusOK, w.Code)
	var lb model.Leaderboard
	require.NoError(json.Unmarshal(w.Body.Bytes(), &lb))
	require.Equal([]string{"bob"}, lb.TopKEquity)
}

func TestPosition_InvalidSequence(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	w := e.do(t, "POST", "/api/v1/leagues/alice/L1/positions", "bob", api.InitPositionRequest{Seq: 3, PriceFeed: solFeed})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, "GET", "/api/v1/leagues/alice/L1/participants/bob/positions/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPosition_Permission(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	e.seed(t)
	w := e.do(t, "POST", "/api/v1/leagues/alice/L1/positions", "bob", api.InitPositionRequest{Seq: 1, PriceFeed: solFeed})
	require.Equal(http.StatusCreated, w.Code)

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/permission", "bob", api.PermissionRequest{Group: "desk", Members: []string{"bob"}})
	require.Equal(http.StatusNoContent, w.Code, w.Body.String())

	req := httptest.NewRequest("GET", "/api/v1/leagues/alice/L1/participants/bob/positions/1", nil)
	req.Header.Set("X-Requester", "mallory")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(http.StatusForbidden, rec.Code)

	w = e.do(t, "GET", "/api/v1/leagues/alice/L1/participants/bob/positions/1", "bob", nil)
	require.Equal(http.StatusOK, w.Code)
}

func TestDelegation_Endpoints(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	key := e.seed(t)
	pk := model.ParticipantKey(key, "bob")

	w := e.do(t, "POST", "/api/v1/delegation/delegate", "alice", api.DelegationRequest{Account: pk})
	require.Equal(http.StatusForbidden, w.Code, "not the owner")

	w = e.do(t, "POST", "/api/v1/delegation/delegate", "bob", api.DelegationRequest{Account: pk})
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())
	var st delegation.Status
	require.NoError(json.Unmarshal(w.Body.Bytes(), &st))
	require.True(st.IsDelegated)
	require.Equal("v1", st.Validator)

	w = e.do(t, "POST", "/api/v1/delegation/delegate", "bob", api.DelegationRequest{Account: pk})
	require.Equal(http.StatusConflict, w.Code)

	w = e.do(t, "POST", "/api/v1/delegation/commit", "", api.DelegationRequest{Account: pk})
	require.Equal(http.StatusOK, w.Code)
	require.JSONEq(`{"applied":false}`, w.Body.String())

	w = e.do(t, "POST", "/api/v1/delegation/undelegate", "bob", api.DelegationRequest{Account: pk})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, "GET", "/api/v1/delegation/status?account="+pk, "", nil)
	require.Equal(http.StatusOK, w.Code)
	require.NoError(json.Unmarshal(w.Body.Bytes(), &st))
	require.False(st.IsDelegated)

	w = e.do(t, "GET", "/api/v1/delegation/status", "", nil)
	require.Equal(http.StatusBadRequest, w.Code)
}

func TestWSHub_BroadcastsLeagueEvents(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.hub.Run(ctx)

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?league=league/alice/L1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(err)
	defer conn.Close()
	require.Eventually(func() bool { return e.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	e.hub.Publish(ctx, events.Event{Type: events.LeagueCreated, League: "league/carol/X", Account: "league/carol/X"})
	e.hub.Publish(ctx, events.Event{Type: events.LeagueStarted, League: "league/alice/L1", Account: "league/alice/L1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(err)
	var evt events.Event
	require.NoError(json.Unmarshal(msg, &evt))
	require.Equal(events.LeagueStarted, evt.Type, "other leagues are filtered out")
}

func TestWSHub_GatedPositionNotDisclosed(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.hub.Run(ctx)
	e.seed(t)

	w := e.do(t, "POST", "/api/v1/leagues/alice/L1/positions", "bob", api.InitPositionRequest{Seq: 1, PriceFeed: solFeed})
	require.Equal(http.StatusCreated, w.Code, w.Body.String())
	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/permission", "bob", api.PermissionRequest{Group: "desk", Members: []string{"bob"}})
	require.Equal(http.StatusNoContent, w.Code, w.Body.String())

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(err)
	defer conn.Close()
	require.Eventually(func() bool { return e.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	w = e.do(t, "POST", "/api/v1/leagues/alice/L1/positions/1/open", "bob", api.OpenRequest{Direction: "long", Size: 1_000_000, Leverage: 5})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(err)
		var evt events.Event
		require.NoError(json.Unmarshal(msg, &evt))
		if evt.Type != events.PositionOpened {
			continue
		}
		require.Equal(model.PositionKey(model.LeagueKey("alice", "L1"), "bob", 1), evt.Account)
		require.Nil(evt.Payload)
		require.NotContains(string(msg), "entry_price")
		break
	}

	req := httptest.NewRequest("GET", "/api/v1/leagues/alice/L1/participants/bob/positions/1", nil)
	req.Header.Set("X-Requester", "mallory")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(http.StatusForbidden, rec.Code)
}
