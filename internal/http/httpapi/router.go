package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genproxy/internal/http/handlers"
	"genproxy/internal/infra"
	"genproxy/internal/middleware"
)

// Options carries the cross-cutting pieces the router wires around the
// handler set.
type Options struct {
	Logger         infra.Logger
	AllowedOrigins []string
	RateLimit      int
	Country        middleware.CountryLookup
	DefaultLocale  string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
	}
	r.Use(middleware.I18N(opts.DefaultLocale, opts.Country))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/images", func(r chi.Router) {
		r.Post("/generate", app.ImagesGenerate)
		r.Post("/batch", app.ImagesBatch)
	})
	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/story", app.VideosStory)
	})
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{job_id}", app.JobStatus)
		r.Get("/{job_id}/batch", app.BatchStatus)
		r.Get("/{job_id}/package", app.JobPackage)
	})

	return r
}
