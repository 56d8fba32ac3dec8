package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/flashcache/pkg/metrics"
)

// NewMetricsServer serves /metrics on its own port. Port 0 picks a free
// port. Until metrics.InitRegistry runs the endpoint answers 404.
func NewMetricsServer(port int) *HTTPServer {
	r := chi.NewRouter()
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	return NewHTTPServer("metrics", &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	})
}
