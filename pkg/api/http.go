// Package api assembles the HTTP surface: public record and search
// endpoints, the admin plane, health probes, metrics and docs.
package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"missionlog/pkg/api/handlers"
	"missionlog/pkg/config"
	"missionlog/pkg/indexer"
	"missionlog/pkg/ingest"
	"missionlog/pkg/query"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
)

var (
	gcPauseTotal = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.PauseTotalNs)
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)

	numGC = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_gc_cycles_total",
			Help: "Total number of GC cycles.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.NumGC)
		},
	)
)

func init() {
	prometheus.MustRegister(gcPauseTotal)
	prometheus.MustRegister(heapAlloc)
	prometheus.MustRegister(numGC)
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Ingest  *ingest.Service
	Query   *query.Service
	Engine  search.Engine
	Indexer *indexer.Indexer
	Sec     config.SecurityConfig
	// MaxRequestBytes caps submission bodies; zero means 1 MiB.
	MaxRequestBytes int64
	Version         string
	DocsDir         string
}

// Handler builds the routed handler with the middleware chain
// request-id, rate limit, telemetry.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.Use(RateLimit(d.Sec))
	r.Use(telemetry.Middleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterRecords(v1, d.Ingest, d.MaxRequestBytes)
	handlers.RegisterSearch(v1, d.Query)
	handlers.RegisterAdmin(v1.PathPrefix("/admin").Subrouter(), d.Engine, d.Indexer)

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(d)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	docsDir := d.DocsDir
	if docsDir == "" {
		docsDir = "./docs"
	}
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir(docsDir)))

	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyzHandler reports readiness of the store and the search engine.
// A degraded engine flips readiness so orchestrators can rebalance, even
// though queries still answer via the fallback.
func readyzHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		if d.Engine != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Engine.Ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
				return
			}
		}
		ver := d.Version
		if ver == "" {
			ver = "dev"
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
	}
}
