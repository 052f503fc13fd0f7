// Copyright (c) 2025 La Comanda Ops
package notify

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the outbound queue size the connection
// layer should use when creating subscriber channels.
const DefaultSubscriberBuffer = 16

// Hub is the per-tenant broadcast registry. It tracks subscriber
// channels by tenant, fans published events out to them, and owns the
// watcher lifecycle: the first subscriber for a tenant starts its
// watcher, the last unsubscribe stops it.
//
// The hub never closes subscriber channels; the connection that created
// a channel owns it.
type Hub struct {
	source ChangeSource

	mu      sync.RWMutex
	tenants map[string]*tenantHub
	closed  bool
}

// tenantHub holds one tenant's subscribers and watcher. Each tenant has
// its own mutex so tenants never contend with each other.
type tenantHub struct {
	mu      sync.Mutex
	subs    map[string]chan Event
	watcher *TenantWatcher
}

// NewHub creates a hub that opens change-feed subscriptions against
// source on demand.
func NewHub(source ChangeSource) *Hub {
	return &Hub{
		source:  source,
		tenants: make(map[string]*tenantHub),
	}
}

// tenant returns the registry entry for tenantID, creating it if needed.
// Returns nil once the hub is closed.
func (h *Hub) tenant(tenantID string) *tenantHub {
	h.mu.RLock()
	th := h.tenants[tenantID]
	closed := h.closed
	h.mu.RUnlock()
	if th != nil || closed {
		return th
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if th = h.tenants[tenantID]; th == nil {
		th = &tenantHub{subs: make(map[string]chan Event)}
		h.tenants[tenantID] = th
	}
	return th
}

// Subscribe registers ch under tenantID and returns the subscription ID
// to pass to Unsubscribe. If this is the tenant's first subscriber (or
// its watcher died since), the tenant's change-feed watcher is started
// before Subscribe returns.
func (h *Hub) Subscribe(tenantID string, ch chan Event) (string, error) {
	th := h.tenant(tenantID)
	if th == nil {
		return "", fmt.Errorf("hub is closed")
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	id := uuid.New().String()
	th.subs[id] = ch

	if th.watcher == nil || th.watcher.Done() {
		w, err := StartWatcher(h.source, tenantID, h.Publish)
		if err != nil {
			delete(th.subs, id)
			return "", fmt.Errorf("failed to start watcher for tenant %s: %w", tenantID, err)
		}
		th.watcher = w
	}

	return id, nil
}

// Unsubscribe removes the subscription. If the tenant now has zero
// subscribers its watcher is stopped. Unknown IDs are ignored, so the
// connection layer can call this unconditionally on every exit path.
func (h *Hub) Unsubscribe(tenantID, subscriptionID string) {
	h.mu.RLock()
	th := h.tenants[tenantID]
	h.mu.RUnlock()
	if th == nil {
		return
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if _, ok := th.subs[subscriptionID]; !ok {
		return
	}
	delete(th.subs, subscriptionID)

	if len(th.subs) == 0 && th.watcher != nil {
		th.watcher.Stop()
		th.watcher = nil
	}
}

// Publish enqueues event onto every channel currently registered for
// tenantID. Enqueue is non-blocking: when a subscriber's queue is full
// the oldest queued event is dropped to make room, since notifications
// are advisory and a display re-syncs through the order list on reload.
func (h *Hub) Publish(tenantID string, event Event) {
	h.mu.RLock()
	th := h.tenants[tenantID]
	h.mu.RUnlock()
	if th == nil {
		return
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	for id, ch := range th.subs {
		select {
		case ch <- event:
			continue
		default:
		}

		// Queue full: shed the oldest event, then retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
			log.Printf("Dropping event for slow subscriber %s (tenant %s)", id, tenantID)
		}
	}
}

// SubscriberCount returns the number of open subscriptions for a tenant.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	th := h.tenants[tenantID]
	h.mu.RUnlock()
	if th == nil {
		return 0
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	return len(th.subs)
}

// WatcherActive reports whether a change-feed watcher is running for
// the tenant.
func (h *Hub) WatcherActive(tenantID string) bool {
	h.mu.RLock()
	th := h.tenants[tenantID]
	h.mu.RUnlock()
	if th == nil {
		return false
	}

	th.mu.Lock()
	defer th.mu.Unlock()
	return th.watcher != nil && !th.watcher.Done()
}

// ActiveTenants returns the number of tenants with at least one open
// subscription.
func (h *Hub) ActiveTenants() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := 0
	for _, th := range h.tenants {
		th.mu.Lock()
		if len(th.subs) > 0 {
			active++
		}
		th.mu.Unlock()
	}
	return active
}

// Close stops all watchers and rejects further subscriptions. Subscriber
// channels stay open; their connections drain on their own as the HTTP
// server shuts down.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for tenantID, th := range h.tenants {
		th.mu.Lock()
		if th.watcher != nil {
			th.watcher.Stop()
			th.watcher = nil
		}
		th.subs = make(map[string]chan Event)
		th.mu.Unlock()
		delete(h.tenants, tenantID)
	}

	log.Printf("Notification hub stopped")
}
