// Package server assembles the HTTP surface of an ironca instance: the REST
// responder under its path prefix, health and metrics endpoints, and the API
// documentation.
package server

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	openapi "github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var openapiSpec []byte

// RouterConfig holds what NewRouter mounts.
type RouterConfig struct {
	// PathPrefix is where Responder is mounted, e.g. "/rest".
	PathPrefix string
	Responder  http.Handler
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// CANames reports the served CAs on /health.
	CANames     func() []string
	DisableDocs bool
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// NewRouter returns the root router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if cfg.CANames == nil {
			w.Write([]byte("OK"))
			return
		}
		w.Write([]byte("OK " + strings.Join(cfg.CANames(), ",")))
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if !cfg.DisableDocs {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/yaml")
			w.Write(openapiSpec)
		})
		r.Handle("/docs*", openapi.SwaggerUI(openapi.SwaggerUIOpts{
			SpecURL: "/openapi.yaml",
			Path:    "docs",
		}, nil))
		r.Handle("/redoc*", openapi.Redoc(openapi.RedocOpts{
			SpecURL: "/openapi.yaml",
			Path:    "redoc",
		}, nil))
	}

	prefix := strings.TrimRight(cfg.PathPrefix, "/")
	if prefix == "" {
		r.Handle("/*", cfg.Responder)
		return r
	}
	rest := http.StripPrefix(prefix, cfg.Responder)
	r.Handle(prefix, rest)
	r.Handle(prefix+"/*", rest)
	return r
}
