package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	log     domain.TransactionLog
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(log domain.TransactionLog, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		log:     log,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	ScoreID       string          `json:"scoreId"`
	TransactionID string          `json:"transactionId"`
	Decision      domain.Decision `json:"decision"`
	OverallRisk   int             `json:"overallRisk"`
	Confidence    float64         `json:"confidence"`
	Reasons       []string        `json:"reasons,omitempty"`
	Metadata      struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate. With ?mode=async the transaction is
// published to the ingestion topic and evaluated by the worker instead.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Shape-level validation only; semantic validation belongs to the
	// engine, which degrades to review instead of erroring.
	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	tx := req.ToContext(uuid.NewString)

	if r.URL.Query().Get("mode") == "async" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "async mode requires an event bus",
			})
			return
		}
		payload, err := json.Marshal(tx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to encode transaction",
			})
			return
		}
		if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
			slog.Error("failed to publish transaction", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "failed to enqueue transaction",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"transactionId": tx.ID,
			"status":        "queued",
		})
		return
	}

	score := h.engine.Evaluate(ctx, tx)

	resp := EvaluateResponse{
		ScoreID:       score.ID,
		TransactionID: score.TransactionID,
		Decision:      score.Decision,
		OverallRisk:   score.OverallRisk,
		Confidence:    score.Confidence,
		Reasons:       score.Reasons,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.log != nil {
		if err := h.log.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves a stored risk score by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}
	if h.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	score, err := h.log.GetScore(ctx, scoreID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", scoreID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// GetTransaction retrieves a logged transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}
	if h.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.log.GetTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the expression rules currently loaded in the engine.
// Builtin rules are compiled in and not listed here; they never change
// at runtime.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	scripts := h.engine.Rules().Scripts()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": scripts,
		"count": len(scripts),
		"total": h.engine.Rules().RulesCount(),
	})
}

// GetRule retrieves a loaded expression rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, script := range h.engine.Rules().Scripts() {
		if script.ID == ruleID {
			writeJSON(w, http.StatusOK, script)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating an expression rule.
type CreateRuleRequest struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Expression      string  `json:"expression"`
	Weight          float64 `json:"weight"`
	Threshold       float64 `json:"threshold"`
	SuggestedAction string  `json:"suggestedAction,omitempty"`
	Enabled         bool    `json:"enabled"`
}

// CreateRule compiles, registers and persists a new expression rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight <= 0 {
		req.Weight = 1.0
	}

	script := &domain.RuleScript{
		ID:              req.ID,
		Name:            req.Name,
		Description:     req.Description,
		Expression:      req.Expression,
		Weight:          req.Weight,
		Threshold:       req.Threshold,
		SuggestedAction: req.SuggestedAction,
		Enabled:         req.Enabled,
	}

	// Compiling doubles as expression validation. Disabled rules are
	// checked without being registered so they stay inert until enabled.
	var compileErr error
	if script.Enabled {
		compileErr = h.engine.Rules().LoadScript(script)
	} else {
		compileErr = h.engine.Rules().ValidateScript(script)
	}
	if compileErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + compileErr.Error(),
		})
		return
	}

	if h.log != nil {
		if err := h.log.SaveRuleScript(ctx, script); err != nil {
			slog.Error("failed to save rule script", "id", script.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", script.ID, "name", script.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": script,
	})
}

// ReloadRules reloads all expression rules from the repository into the
// engine without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	scripts, err := h.log.ListRuleScripts(ctx)
	if err != nil {
		slog.Error("failed to list rule scripts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from repository",
		})
		return
	}

	if err := h.engine.Rules().ReloadScripts(scripts); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", len(scripts))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(scripts),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
