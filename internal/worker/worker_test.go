package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/checker"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// fakeRepo records writes; history queries answer empty.
type fakeRepo struct {
	mu      sync.Mutex
	txs     []*domain.Transaction
	results []*domain.FraudCheckResult
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
	r.txs = append(r.txs, tx)
	return nil
}

func (r *fakeRepo) SaveCheckResult(_ context.Context, result *domain.FraudCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *fakeRepo) GetCheckResult(context.Context, string) (*domain.FraudCheckResult, error) {
	return nil, nil
}
func (r *fakeRepo) SaveFeedback(context.Context, *domain.Feedback) error { return nil }
func (r *fakeRepo) CountFeedback(context.Context) (int, error)           { return 0, nil }
func (r *fakeRepo) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) saved() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs), len(r.results)
}

func newTestChecker(t *testing.T, intercept float64) *checker.Checker {
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

	dir := t.TempDir()
	writeJSONFile(t, filepath.Join(dir, model.ConfigFile), model.ModelConfig{
		FeatureColumns: cols,
		Version:        "worker-test",
		Threshold:      0.5,
	})
	writeJSONFile(t, filepath.Join(dir, model.ScalerFile), model.ScalerParams{
		FeatureColumns: cols,
		Mean:           make([]float64, n),
		Scale:          scale,
	})
	writeJSONFile(t, filepath.Join(dir, model.WeightsFile), model.Weights{
		Coefficients: make([]float64, n),
		Intercept:    intercept,
	})

	reg, err := model.NewRegistry(dir, time.UTC)
	if err != nil {
		t.Fatalf("registry init failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	return checker.New(reg, nil, domain.ScoringConfig{
		ReviewThreshold: 0.4,
		RejectThreshold: 0.7,
		ModelWeight:     0.7,
		VelocityWeight:  0.3,
	})
}

func writeJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func awaitMessage(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWorkerProcessesCheckRequest(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	repo := &fakeRepo{}
	w := NewWorker(b, repo, newTestChecker(t, 0))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	decisions := make(chan *domain.Message, 1)
	_, err := b.Subscribe(context.Background(), domain.TopicDecision, func(_ context.Context, msg *domain.Message) error {
		decisions <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	tx := domain.Transaction{
		ID:         "tx-async-1",
		CustomerID: "cust-1",
		Amount:     50,
		Category:   domain.CategoryFoodDining,
		Timestamp:  time.Now(),
		DeviceID:   "dev-1",
	}
	payload, _ := json.Marshal(tx)
	if err := b.Publish(context.Background(), domain.TopicCheckRequested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msg := awaitMessage(t, decisions)

	var result domain.FraudCheckResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("failed to parse decision payload: %v", err)
	}
	if result.TxID != "tx-async-1" {
		t.Errorf("decision tx id = %q, want tx-async-1", result.TxID)
	}
	if result.Tier != domain.TierMedium || result.Action != domain.ActionReview {
		t.Errorf("got %s/%s, want medium/review at score 0.5", result.Tier, result.Action)
	}

	// Persistence happens before the decision is published.
	txs, results := repo.saved()
	if txs != 1 || results != 1 {
		t.Errorf("saved %d transactions and %d results, want 1 and 1", txs, results)
	}
}

func TestWorkerPublishesAlertForHighTier(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	// intercept 3 puts the constant model score at sigmoid(3) ~ 0.95
	w := NewWorker(b, &fakeRepo{}, newTestChecker(t, 3))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	alerts := make(chan *domain.Message, 1)
	_, err := b.Subscribe(context.Background(), domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		alerts <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	tx := domain.Transaction{
		ID:         "tx-async-2",
		CustomerID: "cust-2",
		Amount:     5000,
		Category:   domain.CategoryMiscNet,
		Timestamp:  time.Now(),
		DeviceID:   "dev-2",
	}
	payload, _ := json.Marshal(tx)
	if err := b.Publish(context.Background(), domain.TopicCheckRequested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msg := awaitMessage(t, alerts)

	var result domain.FraudCheckResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("failed to parse alert payload: %v", err)
	}
	if result.Tier != domain.TierHigh || result.Action != domain.ActionReject {
		t.Errorf("alert carried %s/%s, want high/reject", result.Tier, result.Action)
	}
}

func TestWorkerIgnoresMalformedPayload(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	repo := &fakeRepo{}
	w := NewWorker(b, repo, newTestChecker(t, 0))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	if err := b.Publish(context.Background(), domain.TopicCheckRequested, []byte("not json")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	txs, results := repo.saved()
	if txs != 0 || results != 0 {
		t.Errorf("malformed payload persisted %d/%d rows, want none", txs, results)
	}
}

func TestWorkerStats(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	w := NewWorker(b, &fakeRepo{}, newTestChecker(t, 0))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicCheckRequested {
		t.Errorf("stats = %+v, want one check-request subscription", stats)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("worker stop failed: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("subscriptions after stop = %d, want 0", got)
	}
}
