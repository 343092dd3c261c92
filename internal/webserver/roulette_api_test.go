package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ichi0g0y/tip-roulette/internal/commands"
	"github.com/ichi0g0y/tip-roulette/internal/kvstore"
	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

type testServer struct {
	server  *Server
	configs *roulette.ConfigStore
	ledger  *roulette.Ledger
}

func newTestServer(t *testing.T, seed bool) *testServer {
	t.Helper()
	store := kvstore.NewMemoryStore()
	configs := roulette.NewConfigStore(store)
	if seed {
		if _, err := configs.EnsureDefault(context.Background()); err != nil {
			t.Fatalf("EnsureDefault failed: %v", err)
		}
	}
	ledger := roulette.NewLedger(store)
	resolver := roulette.NewResolver(store, roulette.NewSelector(fixedSource(0.999)), ledger)
	hub := NewHub()
	processor := tips.NewProcessor(resolver, commands.NewDispatcher(configs, ledger, nil), tips.LogNotifier{}, hub, tips.Options{})

	return &testServer{
		server:  New(Deps{Configs: configs, Ledger: ledger, Processor: processor, Hub: hub, DebugTips: true}),
		configs: configs,
		ledger:  ledger,
	}
}

func (ts *testServer) doWithOrigin(t *testing.T, method, path, body, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleRouletteConfig_GetAndPut(t *testing.T) {
	ts := newTestServer(t, false)

	if rec := ts.do(t, http.MethodGet, "/api/roulette/config", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET without config: got=%d want=%d", rec.Code, http.StatusNotFound)
	}

	putBody := `{"spinCost":25,"spinCooldown":5,"spinRotations":3,"spinDuration":2000,"trackingEnabled":true,
		"segments":[{"id":"x","label":"X","tokens":0,"weight":3},{"id":"y","label":"Y","tokens":10}]}`
	rec := ts.do(t, http.MethodPut, "/api/roulette/config", putBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status mismatch: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/roulette/config", "")
	var cfg roulette.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cfg.SpinCost != 25 || len(cfg.Segments) != 2 || cfg.Segments[1].Weight != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	rec = ts.do(t, http.MethodPut, "/api/roulette/config", `{"spinCost":0,"spinRotations":1,"segments":[{"id":"a"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid config should be rejected: got=%d", rec.Code)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/roulette/config", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE status mismatch: got=%d", rec.Code)
	}
}

func TestHandleRouletteSegments(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/api/roulette/segments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status mismatch: got=%d", rec.Code)
	}
	var segs []segmentOdds
	if err := json.Unmarshal(rec.Body.Bytes(), &segs); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	total := 0.0
	for _, s := range segs {
		total += s.Probability
	}
	if len(segs) != len(roulette.DefaultConfig().Segments) || total < 0.999 || total > 1.001 {
		t.Fatalf("unexpected odds: %+v (sum %v)", segs, total)
	}
}

func TestHandleRouletteTipAndStats(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodPost, "/api/roulette/tip", `{"username":"Alice","amount":120}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("tip status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var outcome roulette.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	// fixedSource(0.999) は最後のセグメント (jackpot) を引く
	if !outcome.Success || len(outcome.Results) != 1 || outcome.Results[0].SegmentID != "jackpot" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	rec = ts.do(t, http.MethodPost, "/api/roulette/tip", `{"username":"alice","amount":120}`)
	json.Unmarshal(rec.Body.Bytes(), &outcome)
	if outcome.Success || outcome.Error != roulette.FailureCooldown {
		t.Fatalf("second tip should hit cooldown: %+v", outcome)
	}

	if rec := ts.do(t, http.MethodPost, "/api/roulette/tip", `{"username":"","amount":120}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty username should be rejected: got=%d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/roulette/stats", "")
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stats.Summary.TotalSpins != 1 || stats.Summary.TotalTokensSpent != 120 || len(stats.Segments) != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = ts.do(t, http.MethodGet, "/api/roulette/users/ALICE", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("user status mismatch: got=%d", rec.Code)
	}
	var user userStatsResponse
	json.Unmarshal(rec.Body.Bytes(), &user)
	if user.Username != "alice" || user.TotalSpins != 1 || len(user.Wins) != 1 {
		t.Fatalf("unexpected user stats: %+v", user)
	}

	if rec := ts.do(t, http.MethodGet, "/api/roulette/users/nobody", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user status mismatch: got=%d", rec.Code)
	}

	for _, path := range []string{"/api/roulette/leaderboard?limit=0", "/api/roulette/winners", "/api/roulette/recent?limit=1"} {
		rec := ts.do(t, http.MethodGet, path, "")
		var rows []json.RawMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil || len(rows) != 1 {
			t.Fatalf("%s: unexpected rows=%d err=%v body=%s", path, len(rows), err, rec.Body.String())
		}
	}
}

func TestHandleRouletteReset(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, http.MethodPost, "/api/roulette/tip", `{"username":"bob","amount":50}`)

	if rec := ts.do(t, http.MethodGet, "/api/roulette/reset", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset status mismatch: got=%d", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/roulette/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status mismatch: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var summary roulette.StatsSummary
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if summary.TotalSpins != 0 || summary.SessionID == "" {
		t.Fatalf("unexpected summary after reset: %+v", summary)
	}
}

func TestCorruptLedgerReported(t *testing.T) {
	store := kvstore.NewMemoryStore()
	if err := store.Set(context.Background(), roulette.TrackingKey, "{broken"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ledger := roulette.NewLedger(store)
	s := New(Deps{Configs: roulette.NewConfigStore(store), Ledger: ledger})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roulette/stats", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "corrupt") {
		t.Fatalf("corrupt ledger not reported: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndAuthWithoutTwitch(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health: code=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/auth", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("auth without twitch: got=%d want=%d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec := ts.do(t, http.MethodOptions, "/api/roulette/config", ""); rec.Code != http.StatusOK ||
		rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS preflight failed: code=%d headers=%v", rec.Code, rec.Header())
	}
}

func TestDebugTipDisabled(t *testing.T) {
	store := kvstore.NewMemoryStore()
	configs := roulette.NewConfigStore(store)
	configs.EnsureDefault(context.Background())
	ledger := roulette.NewLedger(store)
	resolver := roulette.NewResolver(store, roulette.NewSelector(fixedSource(0.1)), ledger)
	processor := tips.NewProcessor(resolver, nil, tips.LogNotifier{}, nil, tips.Options{})
	s := New(Deps{Configs: configs, Ledger: ledger, Processor: processor})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/roulette/tip",
		strings.NewReader(`{"username":"alice","amount":100}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("debug tip should be hidden: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
	summary, _ := ledger.GetStatsSummary(context.Background())
	if summary.TotalSpins != 0 {
		t.Fatalf("disabled debug tip still spun: %+v", summary)
	}
}

func TestMutationsRejectForeignOrigin(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, http.MethodPost, "/api/roulette/tip", `{"username":"bob","amount":50}`)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		origin string
		want   int
	}{
		{name: "tip from foreign page", method: http.MethodPost, path: "/api/roulette/tip",
			body: `{"username":"eve","amount":500}`, origin: "https://evil.example", want: http.StatusForbidden},
		{name: "reset from foreign page", method: http.MethodPost, path: "/api/roulette/reset",
			origin: "https://evil.example", want: http.StatusForbidden},
		{name: "config from foreign page", method: http.MethodPut, path: "/api/roulette/config",
			body: `{}`, origin: "http://evil.example:8080", want: http.StatusForbidden},
		{name: "tip from local dashboard", method: http.MethodPost, path: "/api/roulette/tip",
			body: `{"username":"carol","amount":50}`, origin: "http://localhost:8080", want: http.StatusOK},
		{name: "reads stay open", method: http.MethodGet, path: "/api/roulette/stats",
			origin: "https://evil.example", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.doWithOrigin(t, tc.method, tc.path, tc.body, tc.origin)
			if rec.Code != tc.want {
				t.Fatalf("status mismatch: got=%d want=%d body=%s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	// 拒否されたリクエストは何も変えていない
	summary, _ := ts.ledger.GetStatsSummary(context.Background())
	if summary.TotalSpins != 2 {
		t.Fatalf("unexpected spins after rejected requests: got=%d want=2", summary.TotalSpins)
	}
	if _, found, _ := ts.ledger.GetUserStats(context.Background(), "eve"); found {
		t.Fatalf("foreign tip was processed")
	}
}
