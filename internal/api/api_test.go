package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checker"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// fakeRepo keeps everything in maps; history queries answer empty.
type fakeRepo struct {
	mu       sync.Mutex
	txs      map[string]*domain.Transaction
	results  map[string]*domain.FraudCheckResult
	feedback []*domain.Feedback
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		txs:     make(map[string]*domain.Transaction),
		results: make(map[string]*domain.FraudCheckResult),
	}
}

func (r *fakeRepo) CountBySubject(context.Context, domain.SubjectKind, string, time.Duration) (int, error) {
	return 0, nil
}
func (r *fakeRepo) SumAmount(context.Context, string, time.Duration) (float64, error) { return 0, nil }
func (r *fakeRepo) AverageDailyAmount(context.Context, string, int) (float64, error)  { return 0, nil }
func (r *fakeRepo) TodayAmount(context.Context, string) (float64, error)              { return 0, nil }
func (r *fakeRepo) CountFailed(context.Context, string, time.Duration) (int, error)   { return 0, nil }
func (r *fakeRepo) SubjectAgeDays(context.Context, string) (int, error)               { return 0, nil }

func (r *fakeRepo) SaveTransaction(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
	return nil
}

func (r *fakeRepo) SaveCheckResult(_ context.Context, result *domain.FraudCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ID] = result
	return nil
}

func (r *fakeRepo) GetCheckResult(_ context.Context, checkID string) (*domain.FraudCheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[checkID]
	if !ok {
		return nil, fmt.Errorf("%w: check %s not found", domain.ErrStorage, checkID)
	}
	return result, nil
}

func (r *fakeRepo) SaveFeedback(_ context.Context, fb *domain.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, fb)
	return nil
}

func (r *fakeRepo) CountFeedback(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feedback), nil
}

func (r *fakeRepo) PruneBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (r *fakeRepo) Ping(context.Context) error                            { return nil }
func (r *fakeRepo) Close() error                                          { return nil }

func writeModelDir(t *testing.T, version string) string {
	t.Helper()

	cols := []string{"amt", "hour", "month", "dayofweek", "day"}
	for _, cat := range domain.Categories() {
		cols = append(cols, string(cat))
	}
	n := len(cols)

	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}

	files := map[string]any{
		model.ConfigFile:  model.ModelConfig{FeatureColumns: cols, Version: version, Threshold: 0.5},
		model.ScalerFile:  model.ScalerParams{FeatureColumns: cols, Mean: make([]float64, n), Scale: scale},
		model.WeightsFile: model.Weights{Coefficients: make([]float64, n)},
	}

	dir := t.TempDir()
	for name, v := range files {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

type testEnv struct {
	server *Server
	repo   *fakeRepo
	bus    *bus.ChannelBus
	models *model.Registry
}

func newTestEnv(t *testing.T, cfg domain.ServerConfig) *testEnv {
	t.Helper()

	dir := writeModelDir(t, "api-test")
	reg, err := model.NewRegistry(dir, time.UTC)
	if err != nil {
		t.Fatalf("registry init failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	chk := checker.New(reg, nil, domain.ScoringConfig{
		ReviewThreshold: 0.4,
		RejectThreshold: 0.7,
		ModelWeight:     0.7,
		VelocityWeight:  0.3,
	})

	repo := newFakeRepo()
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	srv := NewServer(cfg, repo, cache.NewLRUCache(100), b, chk, reg, dir, "test")
	return &testEnv{server: srv, repo: repo, bus: b, models: reg}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestCheckEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	t.Run("scores a transaction", func(t *testing.T) {
		decisions := make(chan *domain.Message, 1)
		sub, err := env.bus.Subscribe(context.Background(), domain.TopicDecision, func(_ context.Context, msg *domain.Message) error {
			decisions <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		rec := env.do(http.MethodPost, "/check", CheckRequest{
			ID:         "tx-api-1",
			CustomerID: "cust-1",
			Amount:     25.50,
			Category:   "food_dining",
			DeviceID:   "dev-1",
		})

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}

		var resp CheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if resp.Result == nil || resp.Result.TxID != "tx-api-1" {
			t.Fatalf("result = %+v", resp.Result)
		}
		if resp.Result.Tier != domain.TierMedium || resp.Result.Action != domain.ActionReview {
			t.Errorf("got %s/%s, want medium/review for the even-odds model", resp.Result.Tier, resp.Result.Action)
		}
		if resp.Metadata.Version != "test" {
			t.Errorf("metadata version = %q, want test", resp.Metadata.Version)
		}

		// Transaction and verdict are persisted.
		env.repo.mu.Lock()
		_, savedTx := env.repo.txs["tx-api-1"]
		_, savedResult := env.repo.results[resp.Result.ID]
		env.repo.mu.Unlock()
		if !savedTx || !savedResult {
			t.Errorf("persisted tx=%v result=%v, want both", savedTx, savedResult)
		}

		select {
		case <-decisions:
		case <-time.After(2 * time.Second):
			t.Error("no decision published on the bus")
		}
	})

	t.Run("generates id and timestamp when omitted", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/check", CheckRequest{
			Amount:   10,
			Category: "home",
			DeviceID: "dev-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}

		var resp CheckResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Result.ID == "" {
			t.Error("expected a generated check id")
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/check", bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/check", CheckRequest{
			Amount:   10,
			Category: "crypto",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad timestamp format", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/check", CheckRequest{
			Amount:    10,
			Category:  "home",
			Timestamp: "06/18/2025 14:00",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGetCheckEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	rec := env.do(http.MethodPost, "/check", CheckRequest{
		ID:         "tx-get-1",
		CustomerID: "cust-1",
		Amount:     40,
		Category:   "travel",
		DeviceID:   "dev-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("check failed: %d", rec.Code)
	}
	var resp CheckResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	t.Run("found", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/checks/"+resp.Result.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var result domain.FraudCheckResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if result.TxID != "tx-get-1" {
			t.Errorf("tx id = %q, want tx-get-1", result.TxID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/checks/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestFeedbackEndpoint(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	t.Run("records feedback", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/feedback", FeedbackRequest{
			CheckID:     "check-1",
			TxID:        "tx-1",
			ActualFraud: true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}

		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		if count, _ := body["feedbackCount"].(float64); count != 1 {
			t.Errorf("feedbackCount = %v, want 1", body["feedbackCount"])
		}
	})

	t.Run("requires check id", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/feedback", FeedbackRequest{ActualFraud: true})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	t.Run("get model", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/model", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["version"] != "api-test" {
			t.Errorf("version = %v, want api-test", body["version"])
		}
	})

	t.Run("reload from new dir", func(t *testing.T) {
		next := writeModelDir(t, "api-test-2")
		rec := env.do(http.MethodPost, "/model/reload", ReloadModelRequest{Dir: next})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}

		m, err := env.models.Current()
		if err != nil || m.Version != "api-test-2" {
			t.Errorf("active model = %v, %v; want api-test-2", m, err)
		}
	})

	t.Run("reload failure keeps serving", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/model/reload", ReloadModelRequest{Dir: t.TempDir()})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
		if _, err := env.models.Current(); err != nil {
			t.Errorf("current model lost after failed reload: %v", err)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	t.Run("health", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["status"] != "healthy" {
			t.Errorf("status = %q, want healthy", body["status"])
		}
		if body["model"] != "api-test" {
			t.Errorf("model = %q, want api-test", body["model"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/model", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/model", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after the limit", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	// Health stays outside the limiter.
	if rec := env.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestTraceHeaders(t *testing.T) {
	env := newTestEnv(t, domain.ServerConfig{})

	rec := env.do(http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing X-Request-ID header")
	}
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("missing X-Trace-ID header")
	}
}
