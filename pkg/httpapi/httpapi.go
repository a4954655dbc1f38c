// Package httpapi is the thin REST surface described in SPEC_FULL.md §6. It
// mounts go-chi/chi routes that call directly into pkg/scheduler,
// pkg/registry, pkg/balancer, pkg/runtime and pkg/learner's public APIs and
// carries no business logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Scheduler is the subset of pkg/scheduler.Scheduler the HTTP surface calls.
type Scheduler interface {
	Submit(req types.Request, priority types.Priority, maxRetries int) (string, error)
	Status(taskID string) (types.Response, bool)
	Cancel(taskID string) bool
	QueueStatus() types.QueueStatus
}

// Registry is the subset of pkg/registry.Registry the HTTP surface calls.
type Registry interface {
	List() []types.PluginDescriptor
	ListByTag(tag string) []types.PluginDescriptor
}

// Balancer is the subset of pkg/balancer.Balancer the HTTP surface calls.
type Balancer interface {
	Workers() []types.WorkerInfo
}

// ContainerManager is the subset of pkg/runtime.Manager the admin container
// routes call.
type ContainerManager interface {
	Create(ctx context.Context, cfg types.ContainerConfig, algorithm string) (string, error)
	Stop(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	State(ctx context.Context, id string) (types.ContainerState, error)
	List() []types.Container
}

// DecisionLog is the subset of pkg/learner.Selector the admin decisions
// route calls.
type DecisionLog interface {
	RecentDecisions(n int) []types.DecisionLogEntry
}

// Deps bundles the core APIs the router dispatches into.
type Deps struct {
	Scheduler Scheduler
	Registry  Registry
	Balancer  Balancer
	Runtime   ContainerManager
	Learner   DecisionLog // may be nil if intelligent scheduling is disabled
}

// NewRouter builds the full chi.Router described by SPEC_FULL.md §6.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	h := &handlers{deps: deps}

	r.Post("/compute", h.submitCompute)
	r.Get("/task/{id}", h.getTask)
	r.Put("/task/{id}/cancel", h.cancelTask)
	r.Get("/algorithms", h.listAlgorithms)
	r.Get("/scheduler/status", h.schedulerStatus)
	r.Get("/scheduler/decisions", h.schedulerDecisions)

	r.Route("/containers", func(r chi.Router) {
		r.Post("/", h.createContainer)
		r.Get("/", h.listContainers)
		r.Get("/{id}", h.getContainer)
		r.Put("/{id}/stop", h.stopContainer)
		r.Delete("/{id}", h.deleteContainer)
	})

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	return r
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		timer := metrics.NewTimer()
		next.ServeHTTP(ww, req)

		method := req.Method
		status := strconv.Itoa(ww.Status())
		metrics.APIRequestsTotal.WithLabelValues(method, status).Add(1)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	})
}

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type computeRequest struct {
	Algorithm      string `json:"algorithm"`
	Parameters     any    `json:"parameters"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

func (h *handlers) submitCompute(w http.ResponseWriter, r *http.Request) {
	var body computeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Algorithm == "" {
		writeError(w, http.StatusBadRequest, "algorithm is required")
		return
	}

	timeout := 5 * time.Minute
	if body.TimeoutSeconds > 0 {
		timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}

	req := types.Request{ID: uuid.New().String(), Algorithm: body.Algorithm, Parameters: body.Parameters, Timeout: timeout}
	taskID, err := h.deps.Scheduler.Submit(req, types.PriorityNormal, 0)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, ok := h.deps.Scheduler.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.Scheduler.Cancel(id) {
		writeError(w, http.StatusConflict, "task is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *handlers) listAlgorithms(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	var descriptors []types.PluginDescriptor
	if tag != "" {
		descriptors = h.deps.Registry.ListByTag(tag)
	} else {
		descriptors = h.deps.Registry.List()
	}
	writeJSON(w, http.StatusOK, descriptors)
}

type schedulerStatusResponse struct {
	types.QueueStatus
	WorkerStatuses []types.WorkerInfo `json:"worker_statuses"`
}

func (h *handlers) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := schedulerStatusResponse{QueueStatus: h.deps.Scheduler.QueueStatus()}
	if h.deps.Balancer != nil {
		resp.WorkerStatuses = h.deps.Balancer.Workers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) schedulerDecisions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Learner == nil {
		writeJSON(w, http.StatusOK, []types.DecisionLogEntry{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Learner.RecentDecisions(100))
}

type createContainerRequest struct {
	Algorithm string                `json:"algorithm"`
	Config    types.ContainerConfig `json:"config"`
}

func (h *handlers) createContainer(w http.ResponseWriter, r *http.Request) {
	var body createContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.deps.Runtime.Create(r.Context(), body.Config, body.Algorithm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"container_id": id})
}

func (h *handlers) listContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Runtime.List())
}

func (h *handlers) getContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.deps.Runtime.State(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(state)})
}

func (h *handlers) stopContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Runtime.Stop(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) deleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Runtime.Destroy(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
