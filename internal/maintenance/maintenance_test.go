package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

func TestParseTrainOutput(t *testing.T) {
	t.Run("plain result line", func(t *testing.T) {
		out := `RESULT_JSON:{"version":"v2","out_dir":"/tmp/candidate","rows_used":500,"succeeded":true}`
		result, err := parseTrainOutput(out)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if result.Version != "v2" || result.RowsUsed != 500 || !result.Succeeded {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("diagnostic lines ignored", func(t *testing.T) {
		out := "loading data\nfitting model\nRESULT_JSON:{\"version\":\"v2\",\"succeeded\":true}\n"
		result, err := parseTrainOutput(out)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if result.Version != "v2" {
			t.Errorf("version = %q, want v2", result.Version)
		}
	})

	t.Run("last result line wins", func(t *testing.T) {
		out := "RESULT_JSON:{\"version\":\"stale\"}\nRESULT_JSON:{\"version\":\"v3\"}\n"
		result, err := parseTrainOutput(out)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if result.Version != "v3" {
			t.Errorf("version = %q, want v3", result.Version)
		}
	})

	t.Run("no result line", func(t *testing.T) {
		if _, err := parseTrainOutput("just logs\n"); !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected model error, got %v", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := parseTrainOutput("RESULT_JSON:{broken"); !errors.Is(err, domain.ErrModel) {
			t.Errorf("expected model error, got %v", err)
		}
	})
}

// fakeRepo answers maintenance queries with canned values.
type fakeRepo struct {
	mu          sync.Mutex
	pruneCutoff time.Time
	pruneCalls  int
	pruned      int64
	feedback    int
}

func (r *fakeRepo) CountBySubject(context.Context, domain.SubjectKind, string, time.Duration) (int, error) {
	return 0, nil
}
func (r *fakeRepo) SumAmount(context.Context, string, time.Duration) (float64, error) { return 0, nil }
func (r *fakeRepo) AverageDailyAmount(context.Context, string, int) (float64, error)  { return 0, nil }
func (r *fakeRepo) TodayAmount(context.Context, string) (float64, error)              { return 0, nil }
func (r *fakeRepo) CountFailed(context.Context, string, time.Duration) (int, error)   { return 0, nil }
func (r *fakeRepo) SubjectAgeDays(context.Context, string) (int, error)               { return 0, nil }
func (r *fakeRepo) SaveTransaction(context.Context, *domain.Transaction) error        { return nil }
func (r *fakeRepo) SaveCheckResult(context.Context, *domain.FraudCheckResult) error   { return nil }
func (r *fakeRepo) GetCheckResult(context.Context, string) (*domain.FraudCheckResult, error) {
	return nil, nil
}
func (r *fakeRepo) SaveFeedback(context.Context, *domain.Feedback) error { return nil }

func (r *fakeRepo) CountFeedback(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feedback, nil
}

func (r *fakeRepo) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneCutoff = cutoff
	r.pruneCalls++
	return r.pruned, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

// fakeTrainer returns a fixed result without shelling out.
type fakeTrainer struct {
	result *TrainResult
	err    error
	calls  int
}

func (f *fakeTrainer) Train(context.Context, string, string, string) (*TrainResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

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

	dir := t.TempDir()
	files := map[string]any{
		model.ConfigFile: model.ModelConfig{FeatureColumns: cols, Version: version, Threshold: 0.5},
		model.ScalerFile: model.ScalerParams{FeatureColumns: cols, Mean: make([]float64, n), Scale: scale},
		model.WeightsFile: model.Weights{
			Coefficients: make([]float64, n),
		},
	}
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

func newTestRegistry(t *testing.T, version string) *model.Registry {
	t.Helper()
	reg, err := model.NewRegistry(writeModelDir(t, version), time.UTC)
	if err != nil {
		t.Fatalf("registry init failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRunOncePrunes(t *testing.T) {
	repo := &fakeRepo{pruned: 42}
	runner := NewRunner(repo, newTestRegistry(t, "v1"), nil, nil, domain.MaintenanceConfig{
		RetentionDays: 30,
	}, "")

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if repo.pruneCalls != 1 {
		t.Fatalf("prune calls = %d, want 1", repo.pruneCalls)
	}
	wantCutoff := time.Now().AddDate(0, 0, -30)
	if diff := repo.pruneCutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("prune cutoff = %v, want about %v", repo.pruneCutoff, wantCutoff)
	}
}

func TestRunOnceSkipsPruneWithoutRetention(t *testing.T) {
	repo := &fakeRepo{}
	runner := NewRunner(repo, newTestRegistry(t, "v1"), nil, nil, domain.MaintenanceConfig{
		RetentionDays: 0,
	}, "")

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if repo.pruneCalls != 0 {
		t.Errorf("prune calls = %d, want 0 when retention is unbounded", repo.pruneCalls)
	}
}

func TestRetrainGatedOnFeedback(t *testing.T) {
	trainer := &fakeTrainer{result: &TrainResult{Version: "v2", Succeeded: true}}
	repo := &fakeRepo{feedback: 10}

	runner := NewRunner(repo, newTestRegistry(t, "v1"), trainer, nil, domain.MaintenanceConfig{
		RetrainEnabled: true,
		MinFeedback:    100,
	}, "")

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if trainer.calls != 0 {
		t.Errorf("trainer ran with %d of %d required labels", repo.feedback, 100)
	}
}

func TestRetrainReloadsModel(t *testing.T) {
	reg := newTestRegistry(t, "v1")
	candidateDir := writeModelDir(t, "v2")

	trainer := &fakeTrainer{result: &TrainResult{
		Version:   "v2",
		OutDir:    candidateDir,
		Succeeded: true,
	}}

	b := bus.NewChannelBus(10)
	defer b.Close()

	reloaded := make(chan *domain.Message, 1)
	if _, err := b.Subscribe(context.Background(), domain.TopicModelReloaded, func(_ context.Context, msg *domain.Message) error {
		reloaded <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	runner := NewRunner(&fakeRepo{feedback: 200}, reg, trainer, b, domain.MaintenanceConfig{
		RetrainEnabled: true,
		MinFeedback:    100,
	}, "")

	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if trainer.calls != 1 {
		t.Fatalf("trainer calls = %d, want 1", trainer.calls)
	}

	m, err := reg.Current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if m.Version != "v2" {
		t.Errorf("active version = %q, want v2 after retrain", m.Version)
	}

	select {
	case msg := <-reloaded:
		var payload map[string]string
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("bad reload payload: %v", err)
		}
		if payload["version"] != "v2" {
			t.Errorf("reload event version = %q, want v2", payload["version"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no model reload event published")
	}
}

func TestRetrainFailureKeepsModel(t *testing.T) {
	reg := newTestRegistry(t, "v1")
	trainer := &fakeTrainer{err: errors.New("training diverged")}

	runner := NewRunner(&fakeRepo{feedback: 200}, reg, trainer, nil, domain.MaintenanceConfig{
		RetrainEnabled: true,
		MinFeedback:    100,
	}, "")

	if err := runner.RunOnce(context.Background()); err == nil {
		t.Fatal("expected run to surface the trainer failure")
	}

	m, err := reg.Current()
	if err != nil || m.Version != "v1" {
		t.Errorf("active model = %v, %v; want v1 untouched", m, err)
	}
}

func TestScriptTrainerRequiresScript(t *testing.T) {
	trainer := NewScriptTrainer("")
	if _, err := trainer.Train(context.Background(), "db", "out", "v1"); !errors.Is(err, domain.ErrInit) {
		t.Errorf("expected init error, got %v", err)
	}
}
