package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"panicker/internal/logging"
	"panicker/internal/market"
	"panicker/internal/signal"
	"panicker/internal/store"
)

// fakeRepo is a hand-written in-memory stand-in for C9's Repository
// interface, matching the teacher's MockClient-style test fakes.
type fakeRepo struct {
	healthErr error
	last      *signal.PanicSignal
	history   []*signal.PanicSignal
	top       []*signal.PanicSignal
	stats     *store.Stats
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error { return f.healthErr }
func (f *fakeRepo) History(ctx context.Context, instrument string, daysBack, limit int) ([]*signal.PanicSignal, error) {
	return f.history, nil
}
func (f *fakeRepo) TopSignals(ctx context.Context, period store.Period, limit int) ([]*signal.PanicSignal, error) {
	return f.top, nil
}
func (f *fakeRepo) LastSignal(ctx context.Context, instrument string) (*signal.PanicSignal, error) {
	return f.last, nil
}
func (f *fakeRepo) Stats(ctx context.Context, days int) (*store.Stats, error) {
	return f.stats, nil
}

func newTestServer(cfg Config, repo Repository) *Server {
	adapter := market.NewMock([]string{"BTCUSDT"})
	return NewServer(cfg, repo, adapter, nil, nil, nil, logging.Default())
}

func TestHealthEndpointHealthy(t *testing.T) {
	s := newTestServer(Config{}, &fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}

func TestHealthEndpointUnhealthyWhenStoreFails(t *testing.T) {
	s := newTestServer(Config{}, &fakeRepo{healthErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCurrentPricesRequiresInstrumentsParam(t *testing.T) {
	s := newTestServer(Config{}, &fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCurrentPricesReturnsPricesForKnownInstruments(t *testing.T) {
	s := newTestServer(Config{}, &fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/prices?instruments=BTCUSDT,ETHUSDT", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Success bool               `json:"success"`
		Data    map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Data) != 2 {
		t.Errorf("expected 2 prices, got %d", len(body.Data))
	}
}

func TestSignalHistoryReturnsRepoResults(t *testing.T) {
	repo := &fakeRepo{history: []*signal.PanicSignal{{Instrument: "BTCUSDT"}}}
	s := newTestServer(Config{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/signals/BTCUSDT/history", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIgnoreInstrumentRejectsNonPositiveDuration(t *testing.T) {
	s := newTestServer(Config{}, &fakeRepo{})

	body := strings.NewReader(`{"durationHours":0}`)
	req := httptest.NewRequest(http.MethodPost, "/api/instruments/BTCUSDT/ignore", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIgnoreInstrumentRequiresAPIKeyWhenConfigured(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := newTestServer(Config{APIKeyHash: string(hash)}, &fakeRepo{})

	body := strings.NewReader(`{"durationHours":1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/instruments/BTCUSDT/ignore", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an API key, got %d", w.Code)
	}
}

func TestIgnoreInstrumentAcceptsCorrectAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := newTestServer(Config{APIKeyHash: string(hash)}, &fakeRepo{})

	body := strings.NewReader(`{"durationHours":1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/instruments/BTCUSDT/ignore", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 since this fixture wires no scanner, got %d", w.Code)
	}
}

func TestStreamRequiresTokenWhenConfigured(t *testing.T) {
	s := newTestServer(Config{StreamSecret: "test-secret"}, &fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a stream token, got %d", w.Code)
	}
}

func TestIssueStreamTokenIsValidForStreamMiddleware(t *testing.T) {
	s := newTestServer(Config{StreamSecret: "test-secret"}, &fakeRepo{})

	token, err := s.IssueStreamToken(time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stream?token="+token, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Errorf("expected the issued token to pass the stream middleware, got 401")
	}
}

func TestRateLimiterAllowsUpToLimitThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatal("expected first two requests to be allowed")
	}
	if rl.Allow("k") {
		t.Error("expected third request within the window to be blocked")
	}
}

func TestCompareRisksSortsDescending(t *testing.T) {
	signals := []*signal.PanicSignal{
		{Instrument: "A", Risk: signal.RiskMetrics{Score: 10}},
		{Instrument: "B", Risk: signal.RiskMetrics{Score: 90}},
		{Instrument: "C", Risk: signal.RiskMetrics{Score: 50}},
	}
	compareRisks(signals)
	if signals[0].Instrument != "B" || signals[1].Instrument != "C" || signals[2].Instrument != "A" {
		t.Errorf("expected risk-descending order B,C,A, got %s,%s,%s", signals[0].Instrument, signals[1].Instrument, signals[2].Instrument)
	}
}
