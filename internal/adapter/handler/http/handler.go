// Package http exposes the coordinator over a small JSON API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/coordinator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Coordinator is the part of the coordinator the API drives
type Coordinator interface {
	CoordinateTask(ctx context.Context, task *domain.Task) (*domain.TaskAssignment, error)
	RegisterNode(ctx context.Context, w *domain.Worker) error
	Health(ctx context.Context) coordinator.HealthReport
}

// Healer is the read and registration surface of the self-healing manager
type Healer interface {
	RegisterForMonitoring(targetType, targetID string) error
	SystemHealth() float64
	Issues() []domain.HealthIssue
	History() []domain.RecoveryResult
	Strategies() []domain.RecoveryStrategyInfo
}

// Submitter queues a task for asynchronous coordination
type Submitter interface {
	PublishTask(ctx context.Context, task *domain.Task) error
}

type Option func(*Handler)

func WithHealer(h Healer) Option {
	return func(a *Handler) { a.healer = h }
}

func WithPlans(r port.PlanRepository) Option {
	return func(a *Handler) { a.plans = r }
}

func WithSubmitter(s Submitter) Option {
	return func(a *Handler) { a.submitter = s }
}

// WithMetricsHandler mounts h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(a *Handler) { a.metrics = h }
}

type Handler struct {
	coord     Coordinator
	healer    Healer
	plans     port.PlanRepository
	submitter Submitter
	metrics   http.Handler
	log       *zap.Logger
}

func New(coord Coordinator, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{coord: coord, log: log.Named("http")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", h.submitTask)
		r.Get("/tasks/{id}/plan", h.getPlan)
		r.Post("/workers", h.registerWorker)
		r.Post("/monitoring", h.registerMonitoring)
		r.Get("/health", h.health)
		r.Get("/recoveries", h.recoveries)
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := codec.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	h.write(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// submitTask coordinates the task inline, or queues it with ?async=true
func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := codec.NewDecoder(r.Body).Decode(&task); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now()
	task.CreatedAt, task.UpdatedAt = now, now
	task.Status = domain.TaskStatusPending

	if r.URL.Query().Get("async") == "true" {
		if h.submitter == nil {
			h.fail(w, http.StatusNotImplemented, errors.New("asynchronous submission is not configured"))
			return
		}
		if err := task.Validate(); err != nil {
			h.fail(w, http.StatusBadRequest, err)
			return
		}
		if err := h.submitter.PublishTask(r.Context(), &task); err != nil {
			h.fail(w, http.StatusServiceUnavailable, err)
			return
		}
		h.write(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": string(task.Status)})
		return
	}

	out, err := h.coord.CoordinateTask(r.Context(), &task)
	if err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if !out.Success {
		status = http.StatusUnprocessableEntity
	}
	h.write(w, status, out)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	if h.plans == nil {
		h.fail(w, http.StatusNotImplemented, errors.New("plan storage is not configured"))
		return
	}
	plan, err := h.plans.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	h.write(w, http.StatusOK, plan)
}

func (h *Handler) registerWorker(w http.ResponseWriter, r *http.Request) {
	var worker domain.Worker
	if err := codec.NewDecoder(r.Body).Decode(&worker); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := h.coord.RegisterNode(r.Context(), &worker); err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	h.write(w, http.StatusCreated, map[string]string{"worker_id": worker.ID})
}

type monitoringRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

func (h *Handler) registerMonitoring(w http.ResponseWriter, r *http.Request) {
	if h.healer == nil {
		h.fail(w, http.StatusNotImplemented, errors.New("self-healing is not configured"))
		return
	}
	var req monitoringRequest
	if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := h.healer.RegisterForMonitoring(req.TargetType, req.TargetID); err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	h.write(w, http.StatusCreated, req)
}

type healthResponse struct {
	Coordinator  coordinator.HealthReport `json:"coordinator"`
	SystemHealth *float64                 `json:"system_health,omitempty"`
	Issues       []domain.HealthIssue     `json:"issues,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Coordinator: h.coord.Health(r.Context())}
	if h.healer != nil {
		score := h.healer.SystemHealth()
		resp.SystemHealth = &score
		resp.Issues = h.healer.Issues()
	}
	h.write(w, http.StatusOK, resp)
}

type recoveriesResponse struct {
	Strategies []domain.RecoveryStrategyInfo `json:"strategies"`
	History    []domain.RecoveryResult       `json:"history"`
}

func (h *Handler) recoveries(w http.ResponseWriter, _ *http.Request) {
	if h.healer == nil {
		h.fail(w, http.StatusNotImplemented, errors.New("self-healing is not configured"))
		return
	}
	h.write(w, http.StatusOK, recoveriesResponse{
		Strategies: h.healer.Strategies(),
		History:    h.healer.History(),
	})
}
