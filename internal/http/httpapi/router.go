package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/KPaul404/Virtual-try-on/internal/http/handlers"
	"github.com/KPaul404/Virtual-try-on/internal/middleware"
)

type Options struct {
	Logger             zerolog.Logger
	CORSAllowedOrigins []string
	// RateLimitPerMin caps run-starting requests per client IP. Zero disables it.
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	limitRuns := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetSession)
			r.Delete("/", app.ResetSession)
			r.Put("/images/{kind}", app.PutImage)
			r.With(limitRuns).Post("/runs", app.StartRun)
			r.Get("/run", app.GetRun)
			r.Get("/events", app.Events)
			r.With(limitRuns).Put("/credential", app.PutCredential)
			r.Get("/final", app.GetFinal)
			r.Get("/fallbacks.zip", app.GetFallbacksZip)
		})
	})

	return r
}
