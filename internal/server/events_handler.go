// Copyright (c) 2025 La Comanda Ops
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/la-comanda/internal/notify"
)

// handleEvents handles GET /events?restauranteId=<tenantId>, the
// long-lived Server-Sent Events stream kitchen displays attach to.
//
// The subscription is torn down on every exit path: client disconnect,
// write failure, or server shutdown. The hub reference-counts its
// watchers off these unsubscribes, so teardown must be unconditional.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tenantID := r.URL.Query().Get("restauranteId")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "restauranteId es requerido")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientChan := make(chan notify.Event, notify.DefaultSubscriberBuffer)
	subID, err := s.hub.Subscribe(tenantID, clientChan)
	if err != nil {
		log.Printf("Failed to subscribe display for tenant %s: %v", tenantID, err)
		writeError(w, http.StatusServiceUnavailable, "notificaciones no disponibles")
		return
	}
	defer s.hub.Unsubscribe(tenantID, subID)

	log.Printf("Display connected: tenant=%s subscription=%s", tenantID, subID)
	defer log.Printf("Display disconnected: tenant=%s subscription=%s", tenantID, subID)

	if err := writeFrame(w, notify.ConnectedEvent("Connected to kitchen order stream")); err != nil {
		return
	}

	for {
		select {
		case event := <-clientChan:
			if err := writeFrame(w, event); err != nil {
				log.Printf("Write failed for tenant %s subscription %s: %v", tenantID, subID, err)
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeFrame serializes one event as an SSE frame and flushes it.
func writeFrame(w http.ResponseWriter, event notify.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
