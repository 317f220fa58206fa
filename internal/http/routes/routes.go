// Package routes assembles the HTTP router: the middleware chain, the Huma
// operations and the envelope fallbacks.
package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/api/handlers"
	"github.com/jmylchreest/xcheck/internal/http/mw"
	"github.com/jmylchreest/xcheck/internal/metrics"
	"github.com/jmylchreest/xcheck/internal/version"
)

// Options configures the router.
type Options struct {
	// IPRateLimit is a per-IP flood guard in requests per minute; 0 disables it.
	IPRateLimit int
	// HandlerTimeout bounds every request.
	HandlerTimeout time.Duration
	// RequestLogging enables chi's access log.
	RequestLogging bool
}

// Handlers are the endpoint implementations.
type Handlers struct {
	Health *handlers.HealthHandler
	Checks *handlers.CheckHandler
	Stats  *handlers.StatsHandler
}

// NewHumaConfig creates the Huma configuration for the API.
func NewHumaConfig() huma.Config {
	cfg := huma.DefaultConfig("X Interaction Check API", version.Get().Short())
	cfg.Info.Description = "Verifies follows, likes, reposts, replies and quotes on X.com through a logged-in browser session."
	cfg.CreateHooks = nil

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"apiKey": {
			Type:        "apiKey",
			In:          "header",
			Name:        mw.HeaderAPIKey,
			Description: "API key. May also be passed as the api_key query parameter.",
		},
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "HS256 service token.",
		},
	}
	cfg.Tags = []*huma.Tag{
		{Name: "Checks", Description: "Interaction checks"},
		{Name: "Stats", Description: "Caller statistics and history"},
		{Name: "Health", Description: "Service health"},
	}
	return cfg
}

// New builds the router. Requests to /api/check/* pass Auth then Admission;
// /api/stats and /api/history pass Auth only; health and metrics are open.
func New(opts Options, h Handlers, authCfg mw.AuthConfig, ctrl *admission.Controller, logger *slog.Logger) http.Handler {
	handlers.UseEnvelopeErrors()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mw.RequestContext)
	r.Use(middleware.RealIP)
	if opts.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if opts.HandlerTimeout > 0 {
		r.Use(middleware.Timeout(opts.HandlerTimeout))
	}
	r.Use(mw.APIVersion())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.HeaderAPIKey},
		ExposedHeaders:   []string{"X-Request-Id", "X-API-Version", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if opts.IPRateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.IPRateLimit, time.Minute))
	}

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	humaConfig := NewHumaConfig()
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health check",
		Description: "Returns service status, login session state and admission stats.",
		Tags:        []string{"Health"},
	}, h.Health.Handle)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Protected routes add their operations to the main document through the
	// shared *OpenAPI but serve no docs endpoints of their own.
	protectedConfig := humaConfig
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""
	security := []map[string][]string{{"apiKey": {}}, {"bearerAuth": {}}}

	r.Group(func(r chi.Router) {
		r.Use(mw.Auth(authCfg))
		statsAPI := humachi.New(r, protectedConfig)

		huma.Register(statsAPI, huma.Operation{
			OperationID: "stats",
			Method:      http.MethodGet,
			Path:        "/api/stats",
			Summary:     "Caller statistics",
			Tags:        []string{"Stats"},
			Security:    security,
		}, h.Stats.Stats)

		huma.Register(statsAPI, huma.Operation{
			OperationID: "history",
			Method:      http.MethodGet,
			Path:        "/api/history",
			Summary:     "Recent checks of the caller",
			Tags:        []string{"Stats"},
			Security:    security,
		}, h.Stats.History)

		r.Group(func(r chi.Router) {
			r.Use(mw.Admission(ctrl, logger))
			checkAPI := humachi.New(r, protectedConfig)

			registerCheck(checkAPI, "checkFollow", "/api/check/follow", "Check follow", security, h.Checks.Follow)
			registerCheck(checkAPI, "checkLike", "/api/check/like", "Check like", security, h.Checks.Like)
			registerCheck(checkAPI, "checkRepost", "/api/check/repost", "Check repost", security, h.Checks.Repost)
			registerCheck(checkAPI, "checkQuote", "/api/check/quote", "Check quote reposts", security, h.Checks.Quote)
			registerCheck(checkAPI, "checkComment", "/api/check/comment", "Check replies", security, h.Checks.Comment)
		})
	})

	return r
}

func registerCheck[I any](api huma.API, id, path, summary string, security []map[string][]string, handler func(ctx context.Context, in *I) (*handlers.EnvelopeOutput, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"Checks"},
		Security:    security,
	}, handler)
}
