// Package app wires configuration, adapters and the HTTP router.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/mailmind-app/mailmind/internal/adapter/httpserver"
	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Authenticated API. Mutating endpoints are rate limited per client IP.
	r.Group(func(ar chi.Router) {
		ar.Use(srv.AuthMiddleware())

		ar.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/rag/index", srv.IndexHandler())
			wr.Post("/rag/ask", srv.AskHandler())
			wr.Post("/email/send", srv.EmailSendHandler())
			wr.Post("/email/sync", srv.EmailSyncHandler())
			wr.Post("/email/{id}/read", srv.EmailReadHandler(true))
			wr.Post("/email/{id}/unread", srv.EmailReadHandler(false))
		})

		ar.Get("/rag/status", srv.StatusHandler())
		ar.Get("/rag/stats", srv.StatsHandler())
		ar.Get("/rag/admin/status", srv.AdminStatusHandler())
		ar.Get("/email/list", srv.EmailListHandler())
	})

	// Unauthenticated operational surface.
	r.Get("/rag/health", srv.HealthHandler())
	r.Get("/debug/polling", srv.PollingDebugHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
