package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.Svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"task":       string(job.Task),
		"status":     string(job.Status),
		"asset_id":   job.AssetID,
		"metadata":   job.Metadata,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

func (a *App) JobResult(w http.ResponseWriter, r *http.Request) {
	result, err := a.Svc.GetJobResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	assets := make([]assetResponse, 0, len(result.Assets))
	for _, asset := range result.Assets {
		assets = append(assets, newAssetResponse(asset))
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":   result.Job.ID,
		"task":     string(result.Job.Task),
		"status":   string(result.Job.Status),
		"metadata": result.Job.Metadata,
		"assets":   assets,
	})
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := a.Svc.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, newJobResponse(job))
}
