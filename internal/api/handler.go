// Package api is the thin HTTP surface over the scenario service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ivlev/stopcast/internal/logger"
	"github.com/ivlev/stopcast/internal/metrics"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/service"
	"github.com/ivlev/stopcast/internal/store"
	"github.com/ivlev/stopcast/internal/system"
)

// Handler exposes the scenario service using go-chi.
type Handler struct {
	svc     *service.Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil (e.g. in tests).
func NewHandler(svc *service.Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Router builds the full route table with logging and metrics middleware.
func Router(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log))
	r.Use(metrics.RequestMiddleware(h.metrics))

	r.Get("/healthz", h.Health)
	r.Get("/metrics", h.Metrics)
	r.Get("/queue", h.Queue)
	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Put)
			r.Delete("/", h.Delete)
			r.Get("/video", h.Video)
		})
	})
	return r
}

type saveResponse struct {
	Record      *scenario.Record `json:"record"`
	Regenerated bool             `json:"regenerated"`
}

// Create handles POST /scenarios; the id is generated when the body has none.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var sc scenario.Scenario
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		h.log.Debug("invalid scenario body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.save(w, r, sc, http.StatusCreated)
}

// Put handles PUT /scenarios/{id}. The path id wins over the body.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var sc scenario.Scenario
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		h.log.Debug("invalid scenario body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sc.ID = chi.URLParam(r, "id")
	h.save(w, r, sc, http.StatusOK)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, sc scenario.Scenario, okStatus int) {
	rec, regenerated, err := h.svc.Save(r.Context(), sc)
	if errors.Is(err, service.ErrInvalidScenario) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error("save scenario failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	status := okStatus
	if regenerated && okStatus == http.StatusOK {
		// рендер поставлен в очередь, видео появится позже
		status = http.StatusAccepted
	}
	writeJSON(w, status, saveResponse{Record: rec, Regenerated: regenerated})
}

// List handles GET /scenarios.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error("list scenarios failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get handles GET /scenarios/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("get scenario failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /scenarios/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("delete scenario failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Video handles GET /scenarios/{id}/video: the file, 202 while rendering,
// 404 when it will never exist.
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.Video(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrStillGenerating):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(scenario.StatusGenerating)})
		return
	case errors.Is(err, service.ErrVideoNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.log.Error("video lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "video lookup failed")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

// Queue handles GET /queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.QueueStatus())
}

type health struct {
	Status       string       `json:"status"`
	QueueLength  int          `json:"queueLength"`
	IsProcessing bool         `json:"isProcessing"`
	System       system.Stats `json:"system"`
}

// Health handles GET /healthz. It answers during long renders because the
// worker yields between frames.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	q := h.svc.QueueStatus()
	writeJSON(w, http.StatusOK, health{
		Status:       "ok",
		QueueLength:  q.QueueLength,
		IsProcessing: q.IsProcessing,
		System:       system.Snapshot(),
	})
}

// Metrics handles GET /metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.metrics.Handler(func() {
		q := h.svc.QueueStatus()
		h.metrics.SetQueueLength(q.QueueLength)
		h.metrics.SetProcessing(q.IsProcessing)
	}).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
