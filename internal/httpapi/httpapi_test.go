package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/dlq"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/failover"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/toolexec"
	"github.com/sagaworks/saga-engine/internal/workflow"
)

type fakeQueueBackend struct {
	jobs []queue.Job
}

func (f *fakeQueueBackend) Enqueue(_ context.Context, job queue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestDeps(t *testing.T) (Deps, store.Store, *fakeQueueBackend) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := toolexec.NewLocalRegistry()
	require.NoError(t, reg.Register("find.restaurant", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, nil))
	executor := toolexec.New(reg)
	chk := checkpoint.New(st)
	fo := failover.New(nil, nil)
	q := &fakeQueueBackend{}
	bus := eventbus.NewBus()
	m := workflow.New(st, executor, chk, fo, nil, nil, bus, q)
	d := dlq.New(st, bus, nil)

	return Deps{
		Store:             st,
		Machine:           m,
		DLQ:               d,
		Bus:               bus,
		JobQueue:          q,
		InternalSystemKey: "test-key",
		WebhookSecret:     []byte("test-webhook-secret"),
	}, st, q
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)
	rec := doRequest(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_CreatesExecutionAndEnqueuesStepZero(t *testing.T) {
	deps, st, q := newTestDeps(t)
	router := NewRouter(deps)

	body := chatRequest{
		Intent: model.Intent{ID: "intent-1", Type: model.IntentSchedule, RawText: "book a table"},
		Plan: model.Plan{
			ID: "plan-1",
			Steps: []model.PlanStep{
				{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"},
			},
		},
	}

	rec := doRequest(t, router, http.MethodPost, "/chat", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "PLANNED", resp.Status)
	require.Len(t, q.jobs, 1)

	_, err := st.LoadExecution(context.Background(), resp.ExecutionID)
	require.NoError(t, err)
}

func TestChat_RejectsMissingPlan(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/chat", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedExecution(t *testing.T, st store.Store) {
	t.Helper()
	now := time.Now().UTC()
	state := &model.ExecutionState{
		ExecutionID: "exec-1",
		Status:      model.StatusPlanned,
		Plan: model.Plan{ID: "plan-1", Steps: []model.PlanStep{
			{ID: "step-1", StepNumber: 1, ToolName: "find.restaurant"},
		}},
		StepStates:     []model.StepState{{StepID: "step-1", Status: model.StepPending}},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	require.NoError(t, st.CreateExecution(context.Background(), state))
}

func TestExecuteStep_RejectsWithoutAuthorization(t *testing.T) {
	deps, st, _ := newTestDeps(t)
	seedExecution(t, st)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/engine/execute-step", executeStepRequest{ExecutionID: "exec-1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExecuteStep_RunsSegmentWithInternalKey(t *testing.T) {
	deps, st, _ := newTestDeps(t)
	seedExecution(t, st)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/engine/execute-step", executeStepRequest{ExecutionID: "exec-1"}, map[string]string{"x-internal-system-key": "test-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp executeStepResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "completed", resp.StepStatus)
}

func TestSegmentJob_RejectsBadSignature(t *testing.T) {
	deps, st, _ := newTestDeps(t)
	seedExecution(t, st)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/internal/segment", queue.Job{ExecutionID: "exec-1"}, map[string]string{"X-Saga-Signature": "not-a-real-signature"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSegmentJob_RunsSegmentWithValidSignature(t *testing.T) {
	deps, st, _ := newTestDeps(t)
	seedExecution(t, st)
	router := NewRouter(deps)

	body, err := json.Marshal(queue.Job{ExecutionID: "exec-1"})
	require.NoError(t, err)
	mac := hmac.New(sha256.New, deps.WebhookSecret)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/internal/segment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Saga-Signature", sig)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDLQStats_ReturnsZeroWhenEmpty(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodGet, "/dlq/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(0), resp["total"])
}

func TestMetrics_ServesPrometheusText(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	router := NewRouter(deps)

	rec := doRequest(t, router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "saga_engine_active_executions")
}
