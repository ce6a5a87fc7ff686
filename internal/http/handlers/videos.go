package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/domain"
)

// maxUploadBytes caps a single video upload.
const maxUploadBytes = 512 << 20

type jobResponse struct {
	JobID     string    `json:"job_id"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	AssetID   string    `json:"asset_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		JobID:     job.ID,
		Task:      string(job.Task),
		Status:    string(job.Status),
		AssetID:   job.AssetID,
		CreatedAt: job.CreatedAt,
	}
}

type assetResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	ParentID        string    `json:"parent_id,omitempty"`
	Quality         string    `json:"quality,omitempty"`
	StorageKey      string    `json:"storage_key"`
	Bytes           int64     `json:"bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

func newAssetResponse(asset *domain.Asset) assetResponse {
	return assetResponse{
		ID:              asset.ID,
		Kind:            string(asset.Kind),
		ParentID:        asset.ParentID,
		Quality:         asset.Quality,
		StorageKey:      asset.StorageKey,
		Bytes:           asset.Bytes,
		DurationSeconds: asset.DurationSeconds,
		CreatedAt:       asset.CreatedAt,
	}
}

// VideoUpload accepts a multipart "file" field or a raw body and queues the
// ingest job.
func (a *App) VideoUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	filename := "upload.mp4"
	var data []byte
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "file field required")
			return
		}
		defer file.Close()
		if header.Filename != "" {
			filename = header.Filename
		}
		data, err = io.ReadAll(file)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
			return
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
			return
		}
		data = body
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}

	job, err := a.Svc.SubmitUpload(r.Context(), filename, data)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, newJobResponse(job))
}

func (a *App) VideoList(w http.ResponseWriter, r *http.Request) {
	videos, err := a.Svc.ListVideos(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]assetResponse, 0, len(videos))
	for i := range videos {
		items = append(items, newAssetResponse(&videos[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) VideoGet(w http.ResponseWriter, r *http.Request) {
	asset, err := a.Svc.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, newAssetResponse(asset))
}

func (a *App) VideoDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Svc.DeleteAsset(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) VideoVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := a.Svc.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]assetResponse, 0, len(versions))
	for i := range versions {
		items = append(items, newAssetResponse(&versions[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

type renditionsRequest struct {
	Qualities []string `json:"qualities"`
}

func (a *App) VideoRenditions(w http.ResponseWriter, r *http.Request) {
	var req renditionsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	job, err := a.Svc.SubmitTranscode(r.Context(), chi.URLParam(r, "id"), req.Qualities)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, newJobResponse(job))
}
