package handlers

import (
	"encoding/json"
	"log"
	"net/http"
)

// HTTPHandler handles plain HTTP endpoints
type HTTPHandler struct {
	version string
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(version string) *HTTPHandler {
	return &HTTPHandler{version: version}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
}

// handleHealth returns a simple health check response
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"status":  "ok",
		"version": h.version,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}
