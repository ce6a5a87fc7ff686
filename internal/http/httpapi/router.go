package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vidforge/internal/http/handlers"
	"vidforge/internal/middleware"
)

func NewRouter(app *handlers.App, logger zerolog.Logger, ratePerMin int) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))
	if ratePerMin > 0 {
		r.Use(middleware.RateLimit(ratePerMin, time.Minute))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/", app.VideoUpload)
		r.Get("/", app.VideoList)
		r.Get("/{id}", app.VideoGet)
		r.Delete("/{id}", app.VideoDelete)
		r.Get("/{id}/versions", app.VideoVersions)
		r.Post("/{id}/renditions", app.VideoRenditions)
	})

	r.Route("/v1/edit", func(r chi.Router) {
		r.Post("/trim", app.EditTrim)
		r.Post("/overlay", app.EditOverlay)
		r.Post("/watermark", app.EditWatermark)
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{id}", app.JobStatus)
		r.Get("/{id}/result", app.JobResult)
		r.Post("/{id}/cancel", app.JobCancel)
	})

	return r
}
