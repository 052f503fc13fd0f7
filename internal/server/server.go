// Copyright (c) 2025 La Comanda Ops
package server

import (
	"encoding/json"
	"net/http"

	"github.com/la-comanda/internal/notify"
	"github.com/la-comanda/internal/store"
)

// Server wires the notification hub and the order boundary into HTTP
// handlers.
type Server struct {
	hub    *notify.Hub
	orders *store.OrderStore
}

// NewServer creates the HTTP layer over hub and orders.
func NewServer(hub *notify.Hub, orders *store.OrderStore) *Server {
	return &Server{hub: hub, orders: orders}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/api/v1/orders", s.handleOrders)
	mux.HandleFunc("/api/v1/orders/", s.handleOrderStatus)
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	return mux
}

// writeJSON writes v with the given status as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body in the API's error shape.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
