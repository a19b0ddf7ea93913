package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/stepflow/internal/catalog"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/stats"
	"github.com/djlord-it/stepflow/internal/trigger"
)

type mockGateway struct {
	triggeredSequence string
	triggeredSnapshot domain.Snapshot
	triggerID         uuid.UUID
	triggerErr        error

	cancelledID uuid.UUID
	cancelErr   error
}

func (g *mockGateway) Trigger(ctx context.Context, sequenceName, recipient string, snapshot domain.Snapshot) (uuid.UUID, error) {
	g.triggeredSequence = sequenceName
	g.triggeredSnapshot = snapshot
	if g.triggerErr != nil {
		return uuid.Nil, g.triggerErr
	}
	return g.triggerID, nil
}

func (g *mockGateway) Cancel(ctx context.Context, executionID uuid.UUID) error {
	g.cancelledID = executionID
	return g.cancelErr
}

type mockStore struct {
	exec     domain.Execution
	steps    []domain.Step
	execErr  error
	stepsErr error
}

func (s *mockStore) GetExecution(ctx context.Context, executionID uuid.UUID) (domain.Execution, error) {
	if s.execErr != nil {
		return domain.Execution{}, s.execErr
	}
	return s.exec, nil
}

func (s *mockStore) GetExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]domain.Step, error) {
	if s.stepsErr != nil {
		return nil, s.stepsErr
	}
	return s.steps, nil
}

type mockReporter struct {
	report stats.Report
	err    error

	gotSequence string
	gotFrom     time.Time
	gotTo       time.Time
}

func (r *mockReporter) Report(ctx context.Context, sequenceName string, from, to time.Time) (stats.Report, error) {
	r.gotSequence = sequenceName
	r.gotFrom = from
	r.gotTo = to
	if r.err != nil {
		return stats.Report{}, r.err
	}
	return r.report, nil
}

func newTestHandler(gateway *mockGateway, store *mockStore, reporter *mockReporter) *Handler {
	if gateway == nil {
		gateway = &mockGateway{triggerID: uuid.New()}
	}
	if store == nil {
		store = &mockStore{}
	}
	if reporter == nil {
		reporter = &mockReporter{}
	}
	return NewHandler(gateway, store, reporter)
}

func TestCreateTrigger_Success(t *testing.T) {
	executionID := uuid.New()
	gateway := &mockGateway{triggerID: executionID}
	handler := newTestHandler(gateway, nil, nil)

	body := `{"sequence_name":"order_confirmation","recipient":"c1","snapshot":{"order_status":"confirmed","total":42}}`
	req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", rec.Code, rec.Body)
	}
	var resp TriggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExecutionID != executionID.String() {
		t.Errorf("execution_id = %q, want %q", resp.ExecutionID, executionID)
	}
	if gateway.triggeredSequence != "order_confirmation" {
		t.Errorf("gateway got sequence %q", gateway.triggeredSequence)
	}
}

func TestCreateTrigger_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing sequence", `{"recipient":"c1"}`, http.StatusBadRequest},
		{"missing recipient", `{"sequence_name":"s"}`, http.StatusBadRequest},
		{"nested snapshot value", `{"sequence_name":"s","recipient":"c1","snapshot":{"items":["a"]}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(nil, nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestCreateTrigger_UnknownSequence(t *testing.T) {
	gateway := &mockGateway{triggerErr: catalog.ErrDefinitionNotFound}
	handler := newTestHandler(gateway, nil, nil)

	body := `{"sequence_name":"nope","recipient":"c1"}`
	req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateTrigger_BodyTooLarge(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	big := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	body := `{"sequence_name":"s","recipient":"c1","snapshot":{"k":"` + string(big) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestCancelExecution(t *testing.T) {
	executionID := uuid.New()
	gateway := &mockGateway{}
	handler := newTestHandler(gateway, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/executions/"+executionID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}
	var resp CancelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.OK {
		t.Error("ok = false, want true")
	}
	if gateway.cancelledID != executionID {
		t.Errorf("gateway got id %s, want %s", gateway.cancelledID, executionID)
	}
}

func TestCancelExecution_NotFound(t *testing.T) {
	gateway := &mockGateway{cancelErr: trigger.ErrExecutionNotFound}
	handler := newTestHandler(gateway, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/executions/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelExecution_BadID(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/executions/not-a-uuid/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetExecution(t *testing.T) {
	executionID := uuid.New()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sentAt := created.Add(time.Second)
	store := &mockStore{
		exec: domain.Execution{
			ID:           executionID,
			SequenceName: "order_confirmation",
			Recipient:    "c1",
			Snapshot:     domain.Snapshot{"order_status": "confirmed"},
			Status:       domain.ExecutionStatusActive,
			CreatedAt:    created,
		},
		steps: []domain.Step{
			{ID: uuid.New(), ExecutionID: executionID, StepIndex: 0, Status: domain.StepStatusSent,
				ScheduledAt: created, CompletedAt: &sentAt, DeliveryRef: "msg-1"},
			{ID: uuid.New(), ExecutionID: executionID, StepIndex: 1, Status: domain.StepStatusScheduled,
				ScheduledAt: created.Add(2 * time.Hour)},
		},
	}
	handler := newTestHandler(nil, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+executionID.String(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body)
	}
	var resp ExecutionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "active" {
		t.Errorf("status = %q", resp.Status)
	}
	if len(resp.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(resp.Steps))
	}
	if resp.Steps[0].DeliveryRef != "msg-1" {
		t.Errorf("step0 delivery_ref = %q", resp.Steps[0].DeliveryRef)
	}
	if resp.Steps[1].CompletedAt != "" {
		t.Errorf("step1 completed_at = %q, want empty", resp.Steps[1].CompletedAt)
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	store := &mockStore{execErr: trigger.ErrExecutionNotFound}
	handler := newTestHandler(nil, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSequenceStats(t *testing.T) {
	reporter := &mockReporter{report: stats.Report{SequenceName: "order_confirmation", StepsSent: 7}}
	handler := newTestHandler(nil, nil, reporter)

	req := httptest.NewRequest(http.MethodGet,
		"/sequences/order_confirmation/stats?from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body)
	}
	if reporter.gotSequence != "order_confirmation" {
		t.Errorf("reporter got sequence %q", reporter.gotSequence)
	}
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if !reporter.gotFrom.Equal(want) {
		t.Errorf("from = %s, want %s", reporter.gotFrom, want)
	}

	var resp stats.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StepsSent != 7 {
		t.Errorf("steps_sent = %d, want 7", resp.StepsSent)
	}
}

func TestSequenceStats_DefaultWindow(t *testing.T) {
	reporter := &mockReporter{}
	handler := newTestHandler(nil, nil, reporter)
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	handler.clock = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/sequences/s/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body)
	}
	if !reporter.gotTo.Equal(now) {
		t.Errorf("to = %s, want %s", reporter.gotTo, now)
	}
	if !reporter.gotFrom.Equal(now.Add(-DefaultStatsWindow)) {
		t.Errorf("from = %s, want %s", reporter.gotFrom, now.Add(-DefaultStatsWindow))
	}
}

func TestSequenceStats_BadTimestamp(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sequences/s/stats?from=yesterday", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSequenceStats_InvalidWindow(t *testing.T) {
	reporter := &mockReporter{err: stats.ErrInvalidWindow}
	handler := newTestHandler(nil, nil, reporter)

	req := httptest.NewRequest(http.MethodGet,
		"/sequences/s/stats?from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth_Simple(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

type mockHealthChecker struct{ err error }

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

func TestHealth_VerboseDegraded(t *testing.T) {
	handler := newTestHandler(nil, nil, nil).
		WithHealthChecker(&mockHealthChecker{err: errors.New("dial refused")})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("health status = %q", resp.Status)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
