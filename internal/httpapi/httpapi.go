// Package httpapi exposes the engine's entry-point HTTP surface: intent
// submission, segment execution, admin resume/cancel, DLQ inspection, and
// liveness/metrics. Routing is hand-written over chi since this repo does
// not run goa's own HTTP-transport code generation; request bodies are
// validated with go-playground/validator so malformed payloads are
// rejected with a field-path error list before any component is touched.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sagaworks/saga-engine/internal/dlq"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/model"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/queue/httpqueue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
	"github.com/sagaworks/saga-engine/internal/workflow"
)

var validate = validator.New()

// Segmenter is the Workflow Machine surface the /engine/execute-step and
// /mesh/resume handlers drive. Implemented by *workflow.Machine.
type Segmenter interface {
	RunSegment(ctx context.Context, executionID string, segmentNumber int) (workflow.SegmentResult, error)
}

// Deps wires every component the HTTP surface needs. InternalSystemKey
// authorizes direct (non-webhook) callers of /engine/execute-step;
// ServiceToken authorizes /mesh/resume; WebhookSecret verifies the HMAC
// signature on queue-originated calls to /internal/segment.
type Deps struct {
	Store             store.Store
	Machine           Segmenter
	DLQ               *dlq.Monitor
	Bus               eventbus.Bus
	JobQueue          queue.Backend
	Log               telemetry.Logger
	InternalSystemKey string
	ServiceToken      string
	WebhookSecret     []byte
}

// NewRouter builds the full chi.Router for the engine service.
func NewRouter(deps Deps) chi.Router {
	if deps.Log == nil {
		deps.Log = telemetry.NewNoopLogger()
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)
	r.Post("/chat", h.chat)
	r.Post("/engine/execute-step", h.executeStep)
	r.Post("/internal/segment", httpqueue.Handler(deps.WebhookSecret, deps.Log, h.processSegmentJob))
	r.Post("/mesh/resume", h.meshResume)

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/stats", h.dlqStats)
		r.Get("/sagas", h.dlqList)
		r.Get("/sagas/{id}", h.dlqGet)
		r.Post("/sagas/{id}/resume", h.dlqResume)
		r.Post("/sagas/{id}/cancel", h.dlqCancel)
	})

	return r
}

// NewDLQRouter builds a minimal chi.Router exposing only the DLQ admin
// routes, health, and metrics — for a standalone DLQ monitor process that
// has no Workflow Machine and therefore no /chat or /engine/execute-step
// surface.
func NewDLQRouter(deps Deps) chi.Router {
	if deps.Log == nil {
		deps.Log = telemetry.NewNoopLogger()
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/stats", h.dlqStats)
		r.Get("/sagas", h.dlqList)
		r.Get("/sagas/{id}", h.dlqGet)
		r.Post("/sagas/{id}/resume", h.dlqResume)
		r.Post("/sagas/{id}/cancel", h.dlqCancel)
	})

	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// chat accepts an already-parsed intent and plan (the LLM intent parser and
// chat streaming surface are external collaborators out of this engine's
// scope), creates the execution and enqueues step 0. Every request is
// handled this way; the intent type is not inspected.
type chatRequest struct {
	Intent model.Intent `json:"intent" validate:"required"`
	Plan   model.Plan   `json:"plan" validate:"required"`
}

type chatResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	IntentType  string `json:"intentType"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := req.Plan.Validate(); err != nil {
		writeFieldError(w, "plan", err.Error())
		return
	}

	now := time.Now().UTC()
	executionID := uuid.NewString()
	stepStates := make([]model.StepState, len(req.Plan.Steps))
	for i, s := range req.Plan.Steps {
		stepStates[i] = model.StepState{StepID: s.ID, Status: model.StepPending}
	}
	state := &model.ExecutionState{
		ExecutionID:    executionID,
		Intent:         req.Intent,
		Plan:           req.Plan,
		Status:         model.StatusPlanned,
		StepStates:     stepStates,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := h.deps.Store.CreateExecution(r.Context(), state); err != nil {
		h.deps.Log.Error(r.Context(), "httpapi: create execution failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "could not create execution"})
		return
	}
	if h.deps.JobQueue != nil {
		if err := h.deps.JobQueue.Enqueue(r.Context(), queue.Job{ExecutionID: executionID, SegmentNumber: 0, Reason: "created"}); err != nil {
			h.deps.Log.Error(r.Context(), "httpapi: enqueue step 0 failed", "execution_id", executionID, "error", err.Error())
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "could not enqueue execution"})
			return
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:     true,
		ExecutionID: executionID,
		Status:      string(model.StatusPlanned),
		IntentType:  string(req.Intent.Type),
	})
}

type executeStepRequest struct {
	ExecutionID    string `json:"executionId" validate:"required,uuid"`
	StartStepIndex *int   `json:"startStepIndex,omitempty" validate:"omitempty,gte=0"`
}

type executeStepResponse struct {
	Success            bool   `json:"success"`
	ExecutionID        string `json:"executionId"`
	StepExecuted       string `json:"stepExecuted,omitempty"`
	StepStatus         string `json:"stepStatus"`
	CompletedSteps     int    `json:"completedSteps"`
	TotalSteps         int    `json:"totalSteps"`
	IsComplete         bool   `json:"isComplete"`
	NextStepTriggered  bool   `json:"nextStepTriggered,omitempty"`
}

// executeStep drives one segment for direct, non-webhook callers — admin
// tooling, manual replays — authorized by the x-internal-system-key header.
// Queue-originated continuations arrive at /internal/segment instead, where
// httpqueue.Handler verifies the HMAC signature before processSegmentJob
// runs the same segment.
func (h *handlers) executeStep(w http.ResponseWriter, r *http.Request) {
	if h.deps.InternalSystemKey != "" && r.Header.Get("x-internal-system-key") != h.deps.InternalSystemKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	var req executeStepRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	segmentNumber := 0
	if req.StartStepIndex != nil {
		segmentNumber = *req.StartStepIndex
	}

	result, err := h.deps.Machine.RunSegment(r.Context(), req.ExecutionID, segmentNumber)
	if err != nil {
		h.deps.Log.Error(r.Context(), "httpapi: run segment failed", "execution_id", req.ExecutionID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}

	switch result.Outcome {
	case workflow.OutcomeDuplicateDelivery:
		writeJSON(w, http.StatusOK, executeStepResponse{Success: true, ExecutionID: req.ExecutionID, StepStatus: "no_steps_remaining"})
		return
	case workflow.OutcomeLockHeld:
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "lock held"})
		return
	}

	state, err := h.deps.Store.LoadExecution(r.Context(), req.ExecutionID)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "execution not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}

	completed := 0
	for _, ss := range state.StepStates {
		if ss.Status == model.StepCompleted {
			completed++
		}
	}
	stepStatus := "pending"
	switch result.Outcome {
	case workflow.OutcomeStepCompleted, workflow.OutcomeCheckpointed, workflow.OutcomeExecutionComplete:
		stepStatus = "completed"
	case workflow.OutcomeCompensating, workflow.OutcomeAwaitingResume:
		stepStatus = "failed"
	case workflow.OutcomeNoOp:
		stepStatus = "no_steps_remaining"
	}

	writeJSON(w, http.StatusOK, executeStepResponse{
		Success:           true,
		ExecutionID:       req.ExecutionID,
		StepExecuted:      result.StepID,
		StepStatus:        stepStatus,
		CompletedSteps:    completed,
		TotalSteps:        len(state.Plan.Steps),
		IsComplete:        state.Status.Terminal(),
		NextStepTriggered: result.Outcome == workflow.OutcomeStepCompleted,
	})
}

// processSegmentJob runs one queue.Job as a segment, for httpqueue.Handler.
func (h *handlers) processSegmentJob(ctx context.Context, job queue.Job) error {
	_, err := h.deps.Machine.RunSegment(ctx, job.ExecutionID, job.SegmentNumber)
	return err
}

type meshResumeRequest struct {
	ExecutionID string `json:"executionId" validate:"required,uuid"`
	TraceID     string `json:"traceId,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// meshResume requires a service-token bearer and resumes an execution from
// its last checkpoint.
func (h *handlers) meshResume(w http.ResponseWriter, r *http.Request) {
	if h.deps.ServiceToken != "" && r.Header.Get("Authorization") != "Bearer "+h.deps.ServiceToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	var req meshResumeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cp, err := h.deps.Store.ReadCheckpoint(r.Context(), req.ExecutionID)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "no checkpoint to resume from"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}

	result, err := h.deps.Machine.RunSegment(r.Context(), req.ExecutionID, cp.Cursor)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": req.ExecutionID, "outcome": result.Outcome})
}

func (h *handlers) dlqStats(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.DLQ.ListDLQ(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	humanRequired := 0
	for _, e := range entries {
		if e.RequiresHumanIntervention {
			humanRequired++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(entries), "requiresHumanIntervention": humanRequired})
}

func (h *handlers) dlqList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.DLQ.ListDLQ(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	status := r.URL.Query().Get("status")
	limit := queryIntOr(r, "limit", len(entries))
	offset := queryIntOr(r, "offset", 0)

	filtered := make([]store.DLQEntry, 0, len(entries))
	for _, e := range entries {
		if status == "human" && !e.RequiresHumanIntervention {
			continue
		}
		filtered = append(filtered, e)
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sagas": filtered[offset:end], "total": len(filtered)})
}

func (h *handlers) dlqGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.deps.Store.ReadDLQEntry(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type dlqResumeRequest struct {
	Reason      string `json:"reason" validate:"required,min=10"`
	AdminUserID string `json:"adminUserId" validate:"required"`
}

func (h *handlers) dlqResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dlqResumeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.deps.DLQ.ResumeFromDLQ(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	if h.deps.JobQueue != nil {
		_ = h.deps.JobQueue.Enqueue(r.Context(), queue.Job{ExecutionID: id, Reason: "dlq resume by " + req.AdminUserID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": id})
}

type dlqCancelRequest struct {
	Reason              string `json:"reason" validate:"required"`
	AdminUserID         string `json:"adminUserId" validate:"required"`
	AttemptCompensation bool   `json:"attemptCompensation"`
}

func (h *handlers) dlqCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dlqCancelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.deps.DLQ.CancelFromDLQ(r.Context(), id, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": id})
}

// metrics renders a small hand-written Prometheus text-exposition mirror of
// DLQ and active-execution gauges, matching the ambient OpenTelemetry
// metrics stack without requiring a full exporter wired up in this process.
func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	active, _ := h.deps.Store.ListActive(r.Context())
	var dlqCount int
	if h.deps.DLQ != nil {
		if entries, err := h.deps.DLQ.ListDLQ(r.Context()); err == nil {
			dlqCount = len(entries)
		}
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(
		"# HELP saga_engine_active_executions Number of non-terminal executions.\n" +
			"# TYPE saga_engine_active_executions gauge\n" +
			"saga_engine_active_executions " + strconv.Itoa(len(active)) + "\n" +
			"# HELP saga_engine_dlq_entries Number of executions currently in the DLQ.\n" +
			"# TYPE saga_engine_dlq_entries gauge\n" +
			"saga_engine_dlq_entries " + strconv.Itoa(dlqCount) + "\n",
	))
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": []map[string]string{{"field": "body", "message": "invalid JSON"}}})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs []map[string]string
		for _, fe := range err.(validator.ValidationErrors) {
			fieldErrs = append(fieldErrs, map[string]string{"field": fe.Namespace(), "message": fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": fieldErrs})
		return false
	}
	return true
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": []map[string]string{{"field": field, "message": message}}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryIntOr(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
