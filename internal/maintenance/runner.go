package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Runner executes periodic maintenance: pruning old behavioral history
// and retraining the model once enough feedback has accumulated.
type Runner struct {
	repo    domain.Repository
	models  *model.Registry
	trainer Trainer
	bus     domain.EventBus
	cfg     domain.MaintenanceConfig

	// dbPath is handed to the trainer so it can read history and
	// feedback directly. Retraining requires the sqlite driver.
	dbPath string

	mu         sync.Mutex
	retraining bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a maintenance runner.
func NewRunner(repo domain.Repository, models *model.Registry, trainer Trainer, bus domain.EventBus, cfg domain.MaintenanceConfig, dbPath string) *Runner {
	return &Runner{
		repo:    repo,
		models:  models,
		trainer: trainer,
		bus:     bus,
		cfg:     cfg,
		dbPath:  dbPath,
		done:    make(chan struct{}),
	}
}

// Start launches the periodic loop.
func (r *Runner) Start() {
	interval := time.Duration(r.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("maintenance runner started", "interval", interval)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.RunOnce(ctx); err != nil {
					slog.Error("maintenance run failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	slog.Info("maintenance runner stopped")
}

// RunOnce performs a single maintenance pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)
		deleted, err := r.repo.PruneBefore(ctx, cutoff)
		if err != nil {
			slog.Error("history prune failed", "error", err)
		} else if deleted > 0 {
			slog.Info("history pruned", "rows", deleted, "cutoff", cutoff.Format(time.RFC3339))
		}
	}

	if r.cfg.RetrainEnabled {
		if err := r.maybeRetrain(ctx); err != nil {
			return err
		}
	}

	return nil
}

// maybeRetrain retrains when the feedback threshold is met. At most one
// retrain runs at a time.
func (r *Runner) maybeRetrain(ctx context.Context) error {
	r.mu.Lock()
	if r.retraining {
		r.mu.Unlock()
		return nil
	}
	r.retraining = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.retraining = false
		r.mu.Unlock()
	}()

	count, err := r.repo.CountFeedback(ctx)
	if err != nil {
		return fmt.Errorf("feedback count failed: %w", err)
	}
	if count < r.cfg.MinFeedback {
		slog.Debug("retrain skipped", "feedback", count, "required", r.cfg.MinFeedback)
		return nil
	}

	currentVersion := ""
	if m, err := r.models.Current(); err == nil {
		currentVersion = m.Version
	}

	slog.Info("retraining model", "feedback", count, "current_version", currentVersion)

	result, err := r.trainer.Train(ctx, r.dbPath, r.cfg.TrainerOutDir, currentVersion)
	if err != nil {
		return fmt.Errorf("retrain failed: %w", err)
	}

	if _, err := r.models.Reload(result.OutDir); err != nil {
		return fmt.Errorf("failed to load retrained model: %w", err)
	}

	slog.Info("model retrained and reloaded",
		"version", result.Version,
		"dir", result.OutDir,
		"rows_used", result.RowsUsed,
	)

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"version": result.Version,
			"dir":     result.OutDir,
		})
		if err := r.bus.Publish(ctx, domain.TopicModelReloaded, payload); err != nil {
			slog.Warn("failed to publish model reload event", "error", err)
		}
	}

	return nil
}
