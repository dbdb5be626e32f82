package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"studio/internal/errmsg"
	"studio/internal/http/handlers"
	"studio/internal/metrics"
	"studio/internal/middleware"
	"studio/internal/ratelimit"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	defaultLocale := errmsg.DefaultLocale
	var origins []string
	rateLimit := 0
	if app.Config != nil {
		defaultLocale = app.Config.DefaultLocale
		origins = app.Config.AllowedOrigins
		rateLimit = app.Config.RateLimitPerMin
	}
	limiter := app.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	m := app.Metrics
	if m == nil {
		m = metrics.Noop{}
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.Metrics(m),
		middleware.CORS(origins),
		middleware.I18N(defaultLocale, app.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Get("/metrics", app.PrometheusMetrics)
	r.Post("/v1/webhooks/runninghub", app.RunningHubWebhook)
	r.Post("/v1/admin/credits/reset", app.ResetCredits)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.JWTSecret))
		r.Use(middleware.RateLimit(limiter, rateLimit, time.Minute, app.Logger))

		r.Route("/v1/tools", func(r chi.Router) {
			r.Get("/", app.ListTools)
			r.Post("/{tool}/upload", app.UploadAsset)
			r.Post("/{tool}/run", app.RunTool)
			r.Get("/{tool}/tasks/{task_id}", app.TaskStatus)
		})

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/", app.ListJobs)
			r.Get("/active", app.ActiveJob)
			r.Get("/{id}", app.GetJob)
			r.Post("/{id}/cancel", app.CancelJob)
			r.Post("/{id}/reconcile", app.ReconcileJob)
			r.Get("/{id}/events", app.JobEvents)
		})

		r.Get("/v1/events", app.UserEvents)
		r.Get("/v1/credits", app.Credits)
	})

	return r
}
