package httpapi_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/gavel/internal/admission"
	"github.com/jensholdgaard/gavel/internal/authz"
	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/engine"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/httpapi"
	"github.com/jensholdgaard/gavel/internal/store"
	"github.com/jensholdgaard/gavel/internal/store/memory"
)

type fixture struct {
	ts     *httptest.Server
	repos  *store.Repositories
	broker *fanout.Broker
	clock  *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repos := memory.Open(clk)
	broker := fanout.NewBroker(slog.Default())
	tp := noop.NewTracerProvider()
	resolver := authz.NewResolver(repos.Teams, repos.Access)
	eng := engine.New(repos, broker, slog.Default(), tp, clk, 20)
	adm := admission.NewService(repos, resolver, broker, slog.Default(), tp, clk)

	srv := httpapi.NewServer(eng, adm, resolver, broker, repos, slog.Default(), config.ServerConfig{
		AllowedOrigins: []string{"*"},
		HistoryTail:    20,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, repos: repos, broker: broker, clock: clk}
}

// do sends a JSON request with identity headers and decodes the JSON body.
func (f *fixture) do(t *testing.T, method, path, userID, email string, body any) (int, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("x-user-id", userID)
		req.Header.Set("x-user-email", email)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

// setup drives a full outcry auction to LIVE over the API and returns the
// auction id and the two team ids.
func (f *fixture) setup(t *testing.T, mode string) (auctionID string, teamIDs []string) {
	t.Helper()

	code, body := f.do(t, http.MethodPost, "/auctions", "owner", "owner@example.com", map[string]any{
		"name":            "league night",
		"mode":            mode,
		"budget_per_team": 1000,
		"squad_size":      3,
		"increment_rules": []map[string]any{{"increment": 10}},
	})
	require.Equal(t, http.StatusCreated, code)
	auctionID = body["id"].(string)

	code, _ = f.do(t, http.MethodPut, "/auctions/"+auctionID+"/tiers", "owner", "owner@example.com", map[string]any{
		"tiers": []map[string]any{{"id": "tier-a", "name": "A", "base_price": 50}},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodPost, "/auctions/"+auctionID+"/teams", "owner", "owner@example.com", map[string]any{
		"teams": []map[string]any{
			{"name": "Team X", "captain_user_id": "cap-x", "captain_email": "x@example.com"},
			{"name": "Team Y", "captain_user_id": "cap-y", "captain_email": "y@example.com"},
		},
	})
	require.Equal(t, http.StatusCreated, code)
	for _, raw := range body["teams"].([]any) {
		teamIDs = append(teamIDs, raw.(map[string]any)["id"].(string))
	}

	code, _ = f.do(t, http.MethodPost, "/auctions/"+auctionID+"/players", "owner", "owner@example.com", map[string]any{
		"players": []map[string]any{
			{"name": "P1", "tier_id": "tier-a"},
			{"name": "P2", "tier_id": "tier-a"},
		},
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, http.MethodPost, "/auctions/"+auctionID+"/start", "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusOK, code)
	return auctionID, teamIDs
}

func TestMissingIdentityRejected(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/auctions", "", "", map[string]any{"name": "x"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "MISSING_IDENTITY", body["code"])
}

func TestLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "OUTCRY")

	code, snap := f.do(t, http.MethodGet, "/auctions/"+auctionID, "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "LIVE", snap["status"])
	require.NotNil(t, snap["round"])

	// Settle the round; the response is the canonical snapshot.
	code, snap = f.do(t, http.MethodPost, "/auctions/"+auctionID+"/action", "owner", "owner@example.com", map[string]any{
		"action": "SOLD", "team_id": teamIDs[0], "amount": 100,
	})
	require.Equal(t, http.StatusOK, code)

	teams := snap["teams"].([]any)
	var teamX map[string]any
	for _, raw := range teams {
		tm := raw.(map[string]any)
		if tm["id"] == teamIDs[0] {
			teamX = tm
		}
	}
	require.NotNil(t, teamX)
	require.Equal(t, float64(900), teamX["remaining_budget"])
	require.Len(t, teamX["players"], 1)
}

func TestAuctioneerRoutesRejectCaptains(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "OUTCRY")

	code, body := f.do(t, http.MethodPost, "/auctions/"+auctionID+"/action", "cap-x", "x@example.com", map[string]any{
		"action": "SOLD", "team_id": teamIDs[0], "amount": 100,
	})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NOT_AUCTIONEER", body["code"])
	require.Equal(t, "x@example.com", body["currentUser"])
}

func TestCaptainBidWrongUserCarriesGuidance(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "SEALED")

	code, state := f.do(t, http.MethodGet, "/auctions/"+auctionID+"/outcry/state", "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusOK, code)
	roundID := state["round_id"].(string)

	// cap-y submits against team X's session.
	session := auctionID + "_" + teamIDs[0]
	code, body := f.do(t, http.MethodPost, "/captain/"+session+"/bid", "cap-y", "y@example.com", map[string]any{
		"round_id": roundID, "amount": 60,
	})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NOT_TEAM_BIDDER", body["code"])
	require.Equal(t, "y@example.com", body["currentUser"])
	require.Equal(t, "x@example.com", body["expectedCaptain"])

	// The rightful captain succeeds.
	code, bid := f.do(t, http.MethodPost, "/captain/"+session+"/bid", "cap-x", "x@example.com", map[string]any{
		"round_id": roundID, "amount": 60,
	})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, float64(60), bid["amount"])
}

func TestCaptainDashboardShowsOwnBidsOnly(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "SEALED")

	_, state := f.do(t, http.MethodGet, "/auctions/"+auctionID+"/outcry/state", "owner", "owner@example.com", nil)
	roundID := state["round_id"].(string)

	sessionX := auctionID + "_" + teamIDs[0]
	sessionY := auctionID + "_" + teamIDs[1]
	code, _ := f.do(t, http.MethodPost, "/captain/"+sessionX+"/bid", "cap-x", "x@example.com", map[string]any{
		"round_id": roundID, "amount": 70,
	})
	require.Equal(t, http.StatusCreated, code)

	code, dash := f.do(t, http.MethodGet, "/captain/"+sessionY, "cap-y", "y@example.com", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, dash["own_bids"])

	code, dash = f.do(t, http.MethodGet, "/captain/"+sessionX, "cap-x", "x@example.com", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, dash["own_bids"], 1)
}

func TestSessionParsing(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/captain/not-a-session", "cap-x", "x@example.com", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_SESSION", body["code"])
}

func TestUnknownFieldsRejected(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/auctions", "owner", "owner@example.com", map[string]any{
		"name": "x", "mode": "SEALED", "budget_per_team": 100, "squad_size": 2,
		"budget": 100,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "MALFORMED_BODY", body["code"])
}

func TestOutcryRaiseOverHTTP(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "OUTCRY")

	code, res := f.do(t, http.MethodPost, "/auctions/"+auctionID+"/outcry/raise", "cap-x", "x@example.com", map[string]any{
		"team_id": teamIDs[0],
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(50), res["amount"])
	require.Equal(t, float64(1), res["sequence_number"])
	require.Equal(t, float64(60), res["next_bid_amount"])

	// Raising again as the high bidder is a precondition failure, not a
	// conflict.
	code, body := f.do(t, http.MethodPost, "/auctions/"+auctionID+"/outcry/raise", "cap-x", "x@example.com", map[string]any{
		"team_id": teamIDs[0],
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "ALREADY_HIGH_BIDDER", body["code"])
}

func TestNotFoundMapping(t *testing.T) {
	f := newFixture(t)

	// A user with no role anywhere is refused before the auction lookup.
	code, body := f.do(t, http.MethodGet, "/auctions/nope", "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NOT_PARTICIPANT", body["code"])

	code, body = f.do(t, http.MethodPost, "/auctions/nope/start", "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NOT_AUCTIONEER", body["code"])

	// A participant polling before any round opens gets a 404.
	code, created := f.do(t, http.MethodPost, "/auctions", "owner", "owner@example.com", map[string]any{
		"name": "quiet", "mode": "SEALED", "budget_per_team": 100, "squad_size": 2,
	})
	require.Equal(t, http.StatusCreated, code)
	auctionID := created["id"].(string)

	code, body = f.do(t, http.MethodGet, "/auctions/"+auctionID+"/outcry/state", "owner", "owner@example.com", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NO_OPEN_ROUND", body["code"])
}

func TestEventStreamDeliversEnvelopes(t *testing.T) {
	f := newFixture(t)
	auctionID, teamIDs := f.setup(t, "OUTCRY")

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/auctions/"+auctionID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("x-user-id", "owner")
	req.Header.Set("x-user-email", "owner@example.com")

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription before raising.
	require.Eventually(t, func() bool {
		return f.broker.SubscriberCount(auctionID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, _ := f.do(t, http.MethodPost, "/auctions/"+auctionID+"/outcry/raise", "cap-x", "x@example.com", map[string]any{
		"team_id": teamIDs[0],
	})
	require.Equal(t, http.StatusOK, code)

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
		if eventLine != "" && dataLine != "" {
			break
		}
	}
	require.Equal(t, fanout.EventOutcryBid, eventLine)

	// Start already published round-opened on this topic, so the raise is
	// sequence 2.
	var env fanout.Envelope
	require.NoError(t, json.Unmarshal([]byte(dataLine), &env))
	require.Equal(t, uint64(2), env.Seq)
	payload := env.Payload.(map[string]any)
	require.Equal(t, float64(50), payload["amount"])
	require.Equal(t, teamIDs[0], payload["team_id"])
}
