/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Structured access log (httplog, ECS field names)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/companies/{companyID}/employees     Roster
  /api/companies/{companyID}/consumptions  Consumption feed
  /api/companies/{companyID}/policies      Policy configuration
  /api/companies/{companyID}/grants        Preview, run, manual, CSV
  /api/companies/{companyID}/balances      Balance report
  /metrics                                 Prometheus (when configured)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// RouterOptions configures NewRouter. Zero values are usable.
type RouterOptions struct {
	AllowedOrigins []string
	// AccessLog receives one record per request; nil disables access logging.
	AccessLog *slog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.AccessLog != nil {
		r.Use(httplog.RequestLogger(opts.AccessLog, &httplog.Options{
			Level:  slog.LevelInfo,
			Schema: httplog.SchemaECS,
		}))
	}
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/companies/{companyID}", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.SaveEmployee)
		})

		r.Post("/consumptions", h.RecordConsumption)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Get("/{leaveTypeID}", h.GetPolicy)
			r.Put("/{leaveTypeID}", h.UpdatePolicy)
		})

		r.Route("/grants", func(r chi.Router) {
			r.Post("/", h.CreateManualGrant)
			r.Get("/preview", h.PreviewGrants)
			r.Post("/run", h.RunGrants)
			r.Post("/import", h.ImportGrants)
			r.Get("/export", h.ExportGrants)
			r.Get("/template", h.GrantTemplate)
		})

		r.Get("/balances", h.GetBalances)
	})

	return r
}

// ECSHandlerOptions returns slog handler options that rename attributes to ECS.
func ECSHandlerOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: httplog.SchemaECS.Concise(false).ReplaceAttr,
	}
}
