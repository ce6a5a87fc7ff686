package handlers

import (
	"encoding/json"
	"net/http"

	"vidforge/internal/domain"
)

type trimRequest struct {
	AssetID string  `json:"asset_id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func (a *App) EditTrim(w http.ResponseWriter, r *http.Request) {
	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.AssetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset_id required")
		return
	}
	job, err := a.Svc.SubmitTrim(r.Context(), req.AssetID, req.Start, req.End)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, newJobResponse(job))
}

type overlayRequest struct {
	AssetID  string                 `json:"asset_id"`
	Overlays []domain.OverlayConfig `json:"overlays"`
}

func (a *App) EditOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.AssetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset_id required")
		return
	}
	job, err := a.Svc.SubmitOverlay(r.Context(), req.AssetID, req.Overlays)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, newJobResponse(job))
}

type watermarkRequest struct {
	AssetID   string               `json:"asset_id"`
	Watermark domain.OverlayConfig `json:"watermark"`
}

func (a *App) EditWatermark(w http.ResponseWriter, r *http.Request) {
	var req watermarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.AssetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset_id required")
		return
	}
	job, err := a.Svc.SubmitWatermark(r.Context(), req.AssetID, req.Watermark)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, newJobResponse(job))
}
