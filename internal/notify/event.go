// Copyright (c) 2025 La Comanda Ops
package notify

import (
	"context"
	"time"
)

// Change kinds reported by a change feed.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// Order statuses as stored by the order service.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusReady      = "ready"
)

// Event types carried on the push stream.
const (
	EventConnected = "connected"
	EventNewOrder  = "new-order"
	EventError     = "error"
)

// Order is a kitchen order document. The order service owns these; this
// subsystem only ever reads them off the change feed.
type Order struct {
	ID        string      `json:"id"`
	TableID   string      `json:"tableId"`
	Items     []OrderItem `json:"items"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// OrderItem is one line of an order ticket.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

// Event is one frame payload pushed to kitchen displays.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Data      *Order `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewOrderEvent builds the frame announcing a freshly created order.
func NewOrderEvent(order Order) Event {
	return Event{
		Type:      EventNewOrder,
		Data:      &order,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorEvent builds an informational error frame. The connection stays
// open; the display decides whether to refresh its order list.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// ConnectedEvent builds the hello frame written right after a display
// subscribes.
func ConnectedEvent(message string) Event {
	return Event{Type: EventConnected, Message: message}
}

// Change is one document change delivered by a change feed.
type Change struct {
	Kind  string `json:"kind"`
	Order Order  `json:"order"`
}

// ChangeBatch groups the changes delivered in one feed message. Err is
// set instead of Changes when the feed reported a transient fault.
type ChangeBatch struct {
	Changes []Change
	Err     error
}

// ChangeSource streams document changes for one tenant's kitchen order
// collection. The returned channel is closed when ctx is cancelled or
// the subscription fails unrecoverably.
type ChangeSource interface {
	Subscribe(ctx context.Context, tenantID string) (<-chan ChangeBatch, error)
}
