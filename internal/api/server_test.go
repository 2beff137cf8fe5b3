package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockify/internal/game"
	"stockify/internal/insight"
	"stockify/internal/metricfeed"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubGenerator struct{}

func (stubGenerator) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "Steady climb."}}},
	}}}, nil
}

func newTestServer(t *testing.T, analyst *insight.Analyst) (*httptest.Server, *metricfeed.Static) {
	t.Helper()
	feed := metricfeed.NewStatic(map[string]game.Metric{
		"artist1": {Name: "Nova", Value: 1_000_000, Popularity: 60},
	})
	settings := game.DefaultSettings()
	settings.Growth = game.GrowthModel{}
	settings.Seed = 1
	settings.Now = func() time.Time { return testNow }
	svc := game.NewService(nil, feed, nil, settings)
	_, err := svc.Track(context.Background(), "artist1")
	require.NoError(t, err)

	srv := New(Options{AdminToken: "admin", Now: func() time.Time { return testNow }}, nil, svc, analyst)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, feed
}

func call(t *testing.T, ts *httptest.Server, method, path, account string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	if account == "admin" {
		req.Header.Del(AccountHeader)
		req.Header.Set("Authorization", "Bearer admin")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/healthz", "", nil, nil))
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/metrics", "", nil, nil))
}

func TestTradingFlow(t *testing.T) {
	ts, feed := newTestServer(t, nil)

	var dash game.Dashboard
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/session", "acct-1", map[string]any{"username": "mira"}, &dash))
	require.Equal(t, game.StartingCreditsMicros, dash.CreditsMicros)

	var invested game.InvestResult
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/invest", "acct-1", map[string]any{"entity_id": "artist1", "amount": "1000"}, &invested))
	require.Equal(t, int64(9000)*game.MicrosPerCredit, invested.CreditsMicros)

	feed.Set("artist1", game.Metric{Name: "Nova", Value: 1_100_000, Popularity: 60})
	var report game.AdvanceReport
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/market/advance", "admin", map[string]any{"periods": 1}, &report))
	require.Equal(t, []string{"artist1"}, report.Advanced)

	var sold game.SellOutcome
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/sell", "acct-1", map[string]any{"entity_id": "artist1", "amount": 550}, &sold))
	require.Equal(t, int64(550)*game.MicrosPerCredit, sold.CreditedMicros)
	require.Equal(t, int64(9550)*game.MicrosPerCredit, sold.CreditsMicros)

	var holdings struct {
		Holdings []game.Holding `json:"holdings"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/holdings", "acct-1", nil, &holdings))
	require.Len(t, holdings.Holdings, 1)
	require.Equal(t, int64(550)*game.MicrosPerCredit, holdings.Holdings[0].CurrentValueMicros)

	var traded struct {
		Entities []game.TradedEntity `json:"entities"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/market/most-traded", "acct-1", nil, &traded))
	require.Len(t, traded.Entities, 1)

	var board struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/leaderboard?limit=5", "", nil, &board))
	require.Len(t, board.Rows, 1)
	require.Equal(t, "mira", board.Rows[0].Username)
}

// trade posts a trade with an idempotency key, the way a retrying client does.
func trade(t *testing.T, ts *httptest.Server, path, key string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set(AccountHeader, "acct-1")
	req.Header.Set(IdempotencyHeader, key)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRetriedTradeWithSameKeyIsNotReapplied(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/session", "acct-1", nil, nil))

	body := map[string]any{"entity_id": "artist1", "amount": "1000"}
	var first, retry game.InvestResult
	require.Equal(t, http.StatusOK, trade(t, ts, "/v1/invest", "key-1", body, &first))
	require.Equal(t, http.StatusOK, trade(t, ts, "/v1/invest", "key-1", body, &retry))
	require.False(t, first.Replayed)
	require.True(t, retry.Replayed)
	require.Equal(t, first.Transaction.ID, retry.Transaction.ID)
	require.Equal(t, "key-1", retry.Transaction.IdempotencyKey)
	require.Equal(t, int64(9000)*game.MicrosPerCredit, retry.CreditsMicros)

	var txs struct {
		Transactions []game.Transaction `json:"transactions"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/transactions", "acct-1", nil, &txs))
	require.Len(t, txs.Transactions, 1)

	var apiErr map[string]string
	require.Equal(t, http.StatusConflict, trade(t, ts, "/v1/sell", "key-1", map[string]any{"entity_id": "artist1", "amount": "10"}, &apiErr))
	require.Contains(t, apiErr["error"], "idempotency key")
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodPost, "/v1/session", "acct-1", nil, nil))

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		want    int
	}{
		{name: "missing account header", method: http.MethodGet, path: "/v1/dashboard", want: http.StatusUnauthorized},
		{name: "unknown account", method: http.MethodGet, path: "/v1/dashboard", account: "ghost", want: http.StatusNotFound},
		{name: "insufficient credits", method: http.MethodPost, path: "/v1/invest", account: "acct-1", body: map[string]any{"entity_id": "artist1", "amount": "10000.01"}, want: http.StatusBadRequest},
		{name: "bad amount", method: http.MethodPost, path: "/v1/invest", account: "acct-1", body: map[string]any{"entity_id": "artist1", "amount": "-5"}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/v1/invest", account: "acct-1", body: map[string]any{"entity_id": "artist1", "amount": 1, "extra": true}, want: http.StatusBadRequest},
		{name: "unknown entity", method: http.MethodPost, path: "/v1/invest", account: "acct-1", body: map[string]any{"entity_id": "nobody", "amount": 1}, want: http.StatusNotFound},
		{name: "sell without holdings", method: http.MethodPost, path: "/v1/sell", account: "acct-1", body: map[string]any{"entity_id": "artist1", "amount": 1}, want: http.StatusBadRequest},
		{name: "entity detail missing", method: http.MethodGet, path: "/v1/entities/nobody", want: http.StatusNotFound},
		{name: "insight disabled", method: http.MethodGet, path: "/v1/entities/artist1/insight", want: http.StatusServiceUnavailable},
		{name: "advance needs admin token", method: http.MethodPost, path: "/v1/market/advance", account: "acct-1", want: http.StatusUnauthorized},
		{name: "negative periods", method: http.MethodPost, path: "/v1/market/advance", account: "admin", body: map[string]any{"periods": -1}, want: http.StatusBadRequest},
		{name: "bad leaderboard limit", method: http.MethodGet, path: "/v1/leaderboard?limit=x", want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]any
			require.Equal(t, tc.want, call(t, ts, tc.method, tc.path, tc.account, tc.body, &body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestEntitiesAndInsight(t *testing.T) {
	ts, feed := newTestServer(t, insight.New(stubGenerator{}, ""))

	var list struct {
		Entities []game.EntityView `json:"entities"`
	}
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/entities", "", nil, &list))
	require.Len(t, list.Entities, 1)
	require.Equal(t, "Nova", list.Entities[0].Name)

	feed.Set("artist2", game.Metric{Name: "Echo", Value: 500, Popularity: 10})
	var tracked game.EntityDetail
	require.Equal(t, http.StatusCreated, call(t, ts, http.MethodPost, "/v1/entities", "acct-1", map[string]any{"id": "artist2"}, &tracked))
	require.Equal(t, int64(500), tracked.Metric)
	require.Len(t, tracked.Series, 1)

	var out map[string]string
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/entities/artist1/insight", "", nil, &out))
	require.Equal(t, "Steady climb.", out["insight"])

	var movers game.Movers
	require.Equal(t, http.StatusOK, call(t, ts, http.MethodGet, "/v1/market/movers", "", nil, &movers))
	require.NotNil(t, movers.Gainers)
}
