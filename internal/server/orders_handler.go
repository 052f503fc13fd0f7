// Copyright (c) 2025 La Comanda Ops
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/la-comanda/internal/notify"
)

// handleOrders handles the order boundary:
//
//	POST /api/v1/orders                — create a pending order
//	GET  /api/v1/orders?restauranteId= — list pending orders (re-sync path)
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateOrder(w, r)
	case http.MethodGet:
		s.handleListPending(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestauranteID string             `json:"restauranteId"`
		TableID       string             `json:"tableId"`
		Items         []notify.OrderItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RestauranteID == "" {
		writeError(w, http.StatusBadRequest, "restauranteId es requerido")
		return
	}
	if req.TableID == "" {
		writeError(w, http.StatusBadRequest, "tableId es requerido")
		return
	}

	order, err := s.orders.CreateOrder(r.Context(), req.RestauranteID, req.TableID, req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("restauranteId")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "restauranteId es requerido")
		return
	}

	orders, err := s.orders.ListPending(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []notify.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// handleOrderStatus handles PATCH /api/v1/orders/{id}/status.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Extract ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	orderID := strings.TrimSuffix(path, "/status")
	if orderID == "" || orderID == path {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req struct {
		RestauranteID string `json:"restauranteId"`
		Status        string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RestauranteID == "" {
		writeError(w, http.StatusBadRequest, "restauranteId es requerido")
		return
	}

	order, err := s.orders.UpdateStatus(r.Context(), req.RestauranteID, orderID, req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, order)
}
