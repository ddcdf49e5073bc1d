package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"consentsync/internal/consent/models"
	"consentsync/internal/platform/metrics"
	"consentsync/internal/platform/middleware"
	"consentsync/internal/sync/orchestrator"
	dErrors "consentsync/pkg/domain-errors"
	"consentsync/pkg/platform/httputil"
	"consentsync/pkg/requestcontext"
)

// requestTimeout bounds one API call. A cold load cut short by it is picked
// up again by the next trigger.
const requestTimeout = 90 * time.Second

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

// Service is the sync layer as the HTTP API sees it.
type Service interface {
	Load(ctx context.Context) (orchestrator.State, error)
	Get(ctx context.Context, id uuid.UUID) (models.Record, error)
	Create(ctx context.Context, in models.CreateInput) (models.Record, error)
	Archive(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context) (orchestrator.State, error)
	ConnectionStatus() orchestrator.Status
	Foreground() bool
	NetworkRestored(ctx context.Context) bool
}

// OfflineSwitch reads and flips the persisted offline-mode override.
type OfflineSwitch interface {
	OfflineMode(ctx context.Context) bool
	SetOfflineMode(ctx context.Context, on bool) error
}

// Handler serves the consent and sync endpoints.
type Handler struct {
	logger  *slog.Logger
	sync    Service
	offline OfflineSwitch
	metrics *metrics.Metrics
}

func New(sync Service, offline OfflineSwitch, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		sync:    sync,
		offline: offline,
		metrics: metrics,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(chimw.RequestID)
	api.Use(middleware.RequestContext)
	api.Use(chimw.Recoverer)
	api.Use(middleware.Logger(h.logger))
	api.Use(chimw.Timeout(requestTimeout))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.Latency(h.metrics))

	api.Get("/consents", h.handleList)
	api.Post("/consents", h.handleCreate)
	api.Get("/consents/{id}", h.handleGet)
	api.Post("/consents/{id}/archive", h.handleArchive)

	api.Post("/sync/retry", h.handleRetry)
	api.Get("/sync/status", h.handleStatus)
	api.Put("/sync/offline-mode", h.handleSetOfflineMode)
	api.Post("/sync/signals/{signal}", h.handleSignal)

	r.Mount("/", api)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.sync.Load(ctx)
	if err != nil {
		h.fail(ctx, w, "load consents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := models.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.sync.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "get consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in models.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.WarnContext(ctx, "invalid create consent request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.sync.Create(ctx, in)
	if err != nil {
		h.fail(ctx, w, "create consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := models.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.sync.Archive(ctx, id); err != nil {
		if errors.Is(err, orchestrator.ErrArchiveUnconfirmed) {
			w.Header().Set("X-Local-State", "archived")
		}
		h.fail(ctx, w, "archive consent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.sync.Retry(ctx)
	if err != nil {
		h.fail(ctx, w, "manual retry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

type statusResponse struct {
	orchestrator.Status
	OfflineMode bool `json:"offline_mode"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		Status:      h.sync.ConnectionStatus(),
		OfflineMode: h.offline.OfflineMode(r.Context()),
	})
}

type offlineModeRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) handleSetOfflineMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req offlineModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "enabled is required"))
		return
	}
	if err := h.offline.SetOfflineMode(ctx, *req.Enabled); err != nil {
		h.fail(ctx, w, "set offline mode", err)
		return
	}
	h.logger.InfoContext(ctx, "offline mode changed",
		"request_id", requestcontext.RequestID(ctx),
		"enabled", *req.Enabled,
	)
	if !*req.Enabled {
		h.sync.NetworkRestored(ctx)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"offline_mode": *req.Enabled})
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	var started bool
	switch signal := chi.URLParam(r, "signal"); signal {
	case "foreground":
		started = h.sync.Foreground()
	case "online":
		started = h.sync.NetworkRestored(r.Context())
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown signal "+signal))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

// fail logs at a level matching the error class and writes it.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"code", dErrors.CodeOf(err),
		"error", err,
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, op+" failed", attrs...)
	default:
		h.logger.WarnContext(ctx, op+" failed", attrs...)
	}
	httputil.WriteError(w, err)
}
