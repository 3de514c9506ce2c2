package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type MetricsEndpoints struct {
	GetMetrics http.Handler
	GetHealth  http.HandlerFunc
}

func NewMetricsEndpoints(promReg *prometheus.Registry, db Pinger) *MetricsEndpoints {
	return &MetricsEndpoints{
		GetMetrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		GetHealth:  health(db),
	}
}

// health reports ok while the session database answers.
func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func NewMetricsRoutes(endpoints *MetricsEndpoints) AddRoutesFn {
	return func(router chi.Router) {
		router.Handle("/internal/metrics", endpoints.GetMetrics)
		router.Get("/internal/health", endpoints.GetHealth)
	}
}
