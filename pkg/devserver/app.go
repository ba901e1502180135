package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
)

const (
	// ReloadPath is the websocket endpoint that browsers connect to for live
	// reload.
	ReloadPath = "/__slate/reload"

	// ReloadScriptPath serves the script that connects to ReloadPath.
	ReloadScriptPath = "/__slate/reload.js"

	// MetricsPath serves the Prometheus metrics.
	MetricsPath = "/metrics"
)

// NewApp returns the handler for the asset server. The compiled theme is
// served from `distDir`, so that the store can load assets from the local
// machine while developing.
func NewApp(fs afero.Fs, distDir string, hub *ReloadHub, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(allowCrossOrigin)

	r.Get(ReloadPath, hub.HandleWebSocket)
	r.Get(ReloadScriptPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Write([]byte(reloadScript))
	})
	if registry != nil {
		r.Handle(MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		// Files change on every build, so the browser shouldn't cache them.
		r.Use(middleware.NoCache)
		r.Handle("/*", http.FileServer(afero.NewHttpFs(fs).Dir(distDir)))
	})
	return r
}

// allowCrossOrigin lets the store's domain fetch assets from the local
// server.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
