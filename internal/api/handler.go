package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/checker"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// resultCacheTTL bounds how long completed checks stay in the cache.
const resultCacheTTL = 10 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	checker  *checker.Checker
	models   *model.Registry
	modelDir string
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, chk *checker.Checker, models *model.Registry, modelDir, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		checker:  chk,
		models:   models,
		modelDir: modelDir,
		version:  version,
	}
}

// CheckRequest is the request body for POST /check.
type CheckRequest struct {
	ID            string   `json:"id,omitempty"`
	CustomerID    string   `json:"customerId,omitempty"`
	Amount        float64  `json:"amount"`
	Category      string   `json:"category"`
	Timestamp     string   `json:"timestamp,omitempty"` // RFC 3339, defaults to now
	WalletBalance *float64 `json:"walletBalance,omitempty"`
	IPAddress     string   `json:"ipAddress,omitempty"`
	DeviceID      string   `json:"deviceId,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// CheckResponse is the response for POST /check.
type CheckResponse struct {
	Result   *domain.FraudCheckResult `json:"result"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Check handles POST /check requests: it scores the transaction
// synchronously, persists it and the verdict, and publishes the
// decision on the bus.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	result, err := h.checker.Check(ctx, tx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	// History and verdict writes are best-effort; a storage hiccup must
	// not turn a scored transaction into a client error.
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveCheckResult(ctx, result); err != nil {
			slog.Error("failed to save check result", "check_id", result.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetCheckResult(ctx, result, resultCacheTTL); err != nil {
			slog.Warn("failed to cache check result", "check_id", result.ID, "error", err)
		}
	}

	h.publishDecision(result)

	resp := CheckResponse{Result: result}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func (req *CheckRequest) toTransaction() (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:            req.ID,
		CustomerID:    req.CustomerID,
		Amount:        req.Amount,
		Category:      domain.Category(req.Category),
		WalletBalance: req.WalletBalance,
		IPAddress:     req.IPAddress,
		DeviceID:      req.DeviceID,
		Status:        req.Status,
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	if req.Timestamp == "" {
		tx.Timestamp = time.Now()
	} else {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return nil, errors.New("timestamp must be RFC 3339")
		}
		tx.Timestamp = ts
	}

	return tx, nil
}

// publishDecision emits the verdict on the bus; high-risk verdicts also
// go to the alert topic.
func (h *Handler) publishDecision(result *domain.FraudCheckResult) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to marshal decision", "check_id", result.ID, "error", err)
		return
	}

	// Publishing happens outside the request context so a canceled
	// request cannot drop the event.
	ctx := context.Background()

	if err := h.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision", "check_id", result.ID, "error", err)
	}

	if result.Tier == domain.TierHigh {
		if err := h.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert", "check_id", result.ID, "error", err)
		}
	}
}

// GetCheck retrieves a check result by ID, cache first.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")

	if checkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}

	if h.cache != nil {
		if result, err := h.cache.GetCheckResult(ctx, checkID); err == nil && result != nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetCheckResult(ctx, checkID)
	if err != nil {
		slog.Error("failed to get check result", "id", checkID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "check not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetCheckResult(ctx, result, resultCacheTTL)
	}

	writeJSON(w, http.StatusOK, result)
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	CheckID     string `json:"checkId"`
	TxID        string `json:"txId,omitempty"`
	ActualFraud bool   `json:"actualFraud"`
	Notes       string `json:"notes,omitempty"`
}

// Feedback records a ground-truth label for a past check.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CheckID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "checkId is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	fb := &domain.Feedback{
		CheckID:     req.CheckID,
		TxID:        req.TxID,
		ActualFraud: req.ActualFraud,
		Notes:       req.Notes,
		CreatedAt:   time.Now(),
	}

	if err := h.repo.SaveFeedback(ctx, fb); err != nil {
		slog.Error("failed to save feedback", "check_id", req.CheckID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save feedback",
		})
		return
	}

	count, _ := h.repo.CountFeedback(ctx)

	slog.Info("feedback recorded", "check_id", req.CheckID, "actual_fraud", req.ActualFraud)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":       "feedback recorded",
		"feedbackCount": count,
	})
}

// GetModel reports the active model generation.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.models.Current()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no model loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  m.Version,
		"dir":      m.Dir,
		"loadedAt": m.LoadedAt.Format(time.RFC3339),
	})
}

// ReloadModelRequest is the optional request body for POST /model/reload.
type ReloadModelRequest struct {
	Dir string `json:"dir,omitempty"`
}

// ReloadModel swaps in the model artifacts from the given directory.
// In-flight checks keep the generation they started with.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	var req ReloadModelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	dir := req.Dir
	if dir == "" {
		dir = h.modelDir
	}

	if _, err := h.models.Reload(dir); err != nil {
		slog.Error("model reload failed", "dir", dir, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "model reload failed: " + err.Error(),
		})
		return
	}

	m, _ := h.models.Current()
	version := ""
	if m != nil {
		version = m.Version
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"version": version, "dir": dir})
		if err := h.bus.Publish(context.Background(), domain.TopicModelReloaded, payload); err != nil {
			slog.Warn("failed to publish model reload event", "error", err)
		}
	}

	slog.Info("model reloaded", "version", version, "dir", dir)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "model reloaded",
		"version": version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
		"model":   h.checker.ModelVersion(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.models.Current(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
