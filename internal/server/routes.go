// Package server wires HTTP handlers into a gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomrelay/internal/metrics"
)

// SetupRoutes configures and returns a router with all application routes.
func SetupRoutes(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/health", HealthHandler)
	r.HandleFunc("/rooms", s.RoomsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.HandleFunc("/test", s.TestPageHandler)
	return r
}
