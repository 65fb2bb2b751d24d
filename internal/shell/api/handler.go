// Package api provides the HTTP control surface for the deployment
// daemon.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/edgedeploy/edd/internal/core/lifecycle"
	"github.com/edgedeploy/edd/internal/shell/api/middleware"
	"github.com/edgedeploy/edd/internal/shell/docker"
	"github.com/edgedeploy/edd/internal/shell/ingest"
	"github.com/edgedeploy/edd/internal/shell/manager"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the control API.
type Handler struct {
	manager *manager.Manager
	docker  docker.Client
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(m *manager.Manager, d docker.Client, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		manager: m,
		docker:  d,
		logger:  l,
	}
}

// Routes returns the router with all routes configured. Every route,
// health checks included, sits behind the client certificate gate.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.ClientCertAuth(h.logger))
	r.Use(h.jsonContentType)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Route("/v1/deployments", func(r chi.Router) {
		r.Get("/", h.handleListDeployments)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.handleGetDeployment)
			r.Delete("/", h.handleDeleteDeployment)
			r.Post("/load", h.handleLoad)
			r.Post("/pull", h.handlePull)
			r.Post("/start", h.handleStart)
			r.Post("/stop", h.handleStop)
			r.Post("/restart", h.handleRestart)
		})
	})

	return r
}

func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.docker.Ping(); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := h.manager.List(r.Context())

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Total:       len(deployments),
	}
	for _, d := range deployments {
		resp.Deployments = append(resp.Deployments, toResponse(d))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := h.manager.Status(r.Context(), name)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	framing := ingest.FramingFromContentType(r.Header.Get("Content-Type"))

	d, err := h.manager.Load(r.Context(), name, r.Body, framing)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.Reference == "" {
		h.writeError(w, http.StatusBadRequest, "reference is required", "validation_error")
		return
	}

	d, err := h.manager.Pull(r.Context(), name, req.Reference)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := h.manager.Start(r.Context(), name)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := h.manager.Stop(r.Context(), name)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := h.manager.Restart(r.Context(), name)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, err := h.manager.Delete(r.Context(), name)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(d))
}

// =============================================================================
// Response Helpers
// =============================================================================

func toResponse(d manager.Deployment) DeploymentResponse {
	return DeploymentResponse{
		Name:        d.Name,
		State:       d.State.String(),
		ContainerID: d.ContainerID,
		Image:       d.ImageTag,
		Health:      d.Health,
		LastError:   d.LastError,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeLifecycleError maps the lifecycle error taxonomy to HTTP status
// codes. Lifecycle errors carry the full diagnostic verbatim; the
// caller decides whether and how to retry.
func (h *Handler) writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	var ingestErr *ingest.Error
	var dockerErr *docker.DockerError

	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
	case errors.Is(err, lifecycle.ErrConflict):
		h.writeError(w, http.StatusConflict, "another operation is in flight", "operation_in_flight")
	case errors.Is(err, lifecycle.ErrNoImage):
		h.writeError(w, http.StatusBadRequest, "no image loaded for deployment", "no_image")
	case errors.As(err, &ingestErr):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "ingest_error")
	case errors.As(err, &dockerErr):
		h.writeError(w, http.StatusBadGateway, err.Error(), "runtime_error")
	default:
		h.logger.Error("unclassified lifecycle error",
			"path", r.URL.Path,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}
