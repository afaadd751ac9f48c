// Package server wires HTTP handlers into a ServeMux for the Flockcast
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, Prometheus metrics, and the test
// page.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", NewWebSocketHandler(hub))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
