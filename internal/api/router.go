// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth routes (public)
	api.HandleFunc("/auth/token", h.IssueToken).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	protected.HandleFunc("/state", h.GetState).Methods("GET")
	protected.HandleFunc("/spin", h.Spin).Methods("POST")
	protected.HandleFunc("/bet", h.SetBet).Methods("POST")
	protected.HandleFunc("/turbo", h.SetTurbo).Methods("POST")
	protected.HandleFunc("/autoplay", h.StartAutoplay).Methods("POST")
	protected.HandleFunc("/autoplay", h.StopAutoplay).Methods("DELETE")
	protected.HandleFunc("/dialog/close", h.CloseDialog).Methods("POST")
	protected.HandleFunc("/history", h.GetHistory).Methods("GET")

	// Operator control
	protected.HandleFunc("/control", h.GetControlStatus).Methods("GET")
	protected.HandleFunc("/control/disable", h.DisableGaming).Methods("POST")
	protected.HandleFunc("/control/enable", h.EnableGaming).Methods("POST")

	// Lifecycle stream and remote renderer
	r.Handle("/ws", h.AuthMiddleware(http.HandlerFunc(h.HandleWebSocket))).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
