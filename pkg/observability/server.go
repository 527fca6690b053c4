package observability

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartMetricsServer serves Prometheus metrics and the health/readiness
// endpoints on a dedicated listener, separate from the cron/operator API,
// so they keep answering while clearing traffic saturates the main server.
func StartMetricsServer(port string, healthChecker *HealthChecker) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	if healthChecker != nil {
		mux.HandleFunc("/health", healthChecker.HealthHandler())
		mux.HandleFunc("/ready", healthChecker.ReadyHandler())
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	return server
}

// ShutdownMetricsServer gracefully shuts down the metrics listener
func ShutdownMetricsServer(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
