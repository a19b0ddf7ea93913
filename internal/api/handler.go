package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/stepflow/internal/catalog"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/stats"
	"github.com/djlord-it/stepflow/internal/trigger"
)

// DefaultStatsWindow is the reporting window used when the request
// does not bound it.
const DefaultStatsWindow = 24 * time.Hour

type Store interface {
	GetExecution(ctx context.Context, executionID uuid.UUID) (domain.Execution, error)
	GetExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]domain.Step, error)
}

// Gateway starts and cancels executions.
type Gateway interface {
	Trigger(ctx context.Context, sequenceName, recipient string, snapshot domain.Snapshot) (uuid.UUID, error)
	Cancel(ctx context.Context, executionID uuid.UUID) error
}

// Reporter aggregates per-sequence stats.
type Reporter interface {
	Report(ctx context.Context, sequenceName string, from, to time.Time) (stats.Report, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	gateway  Gateway
	store    Store
	reporter Reporter
	clock    func() time.Time
	db       HealthChecker
}

func NewHandler(gateway Gateway, store Store, reporter Reporter) *Handler {
	return &Handler{
		gateway:  gateway,
		store:    store,
		reporter: reporter,
		clock:    time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		h.cancelExecution(w, r)

	case strings.HasPrefix(path, "/executions/") && r.Method == http.MethodGet:
		h.getExecution(w, r)

	case strings.HasSuffix(path, "/stats") && r.Method == http.MethodGet:
		h.sequenceStats(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executionID, err := h.gateway.Trigger(r.Context(), req.SequenceName, req.Recipient, domain.Snapshot(req.Snapshot))
	if err != nil {
		if errors.Is(err, catalog.ErrDefinitionNotFound) {
			writeError(w, http.StatusNotFound, "unknown sequence")
			return
		}
		log.Printf("api: trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start execution")
		return
	}

	writeJSON(w, http.StatusCreated, TriggerResponse{ExecutionID: executionID.String()})
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	// Path: /executions/{id}/cancel
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "executions" || parts[2] != "cancel" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	executionID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	if err := h.gateway.Cancel(r.Context(), executionID); err != nil {
		if errors.Is(err, trigger.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		log.Printf("api: cancel error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel execution")
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{OK: true})
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	// Path: /executions/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "executions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	executionID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.store.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, trigger.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		log.Printf("api: get execution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	steps, err := h.store.GetExecutionSteps(r.Context(), executionID)
	if err != nil {
		log.Printf("api: get steps error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	resp := ExecutionResponse{
		ID:           exec.ID.String(),
		SequenceName: exec.SequenceName,
		Recipient:    exec.Recipient,
		Snapshot:     exec.Snapshot,
		Status:       string(exec.Status),
		CreatedAt:    formatTime(exec.CreatedAt),
		CompletedAt:  formatTimePtr(exec.CompletedAt),
		CancelledAt:  formatTimePtr(exec.CancelledAt),
		Steps:        make([]StepResponse, len(steps)),
	}
	for i, step := range steps {
		resp.Steps[i] = StepResponse{
			ID:          step.ID.String(),
			StepIndex:   step.StepIndex,
			Status:      string(step.Status),
			ScheduledAt: formatTime(step.ScheduledAt),
			ClaimedAt:   formatTimePtr(step.ClaimedAt),
			CompletedAt: formatTimePtr(step.CompletedAt),
			DeliveryRef: step.DeliveryRef,
			Error:       step.Error,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sequenceStats(w http.ResponseWriter, r *http.Request) {
	// Path: /sequences/{name}/stats
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "sequences" || parts[2] != "stats" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sequenceName := parts[1]

	now := h.clock().UTC()
	from, to := now.Add(-DefaultStatsWindow), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp (want RFC3339)")
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp (want RFC3339)")
			return
		}
		to = t
	}

	report, err := h.reporter.Report(r.Context(), sequenceName, from, to)
	if err != nil {
		if errors.Is(err, stats.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("api: stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
