package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindcast/internal/util"
	"mindcast/pkg/metrics"
)

// New returns the stage's operational router: health and metrics.
func New() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	return util.WithRequestID(r)
}
