package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/orchestrator"
)

type App struct {
	Svc    *orchestrator.Service
	Logger zerolog.Logger
}

func NewApp(svc *orchestrator.Service, logger zerolog.Logger) *App {
	return &App{Svc: svc, Logger: logger}
}

// Health answers liveness probes.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

// domainError maps typed service errors onto HTTP statuses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrParentNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrInvalidOverlay),
		errors.Is(err, domain.ErrInvalidKind):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrHasActiveJobs):
		a.error(w, http.StatusConflict, "has_active_jobs", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrNotReady):
		a.error(w, http.StatusConflict, "not_ready", err.Error())
	case errors.Is(err, domain.ErrDuplicateJob):
		a.error(w, http.StatusConflict, "duplicate_job", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
