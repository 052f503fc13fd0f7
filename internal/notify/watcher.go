// Copyright (c) 2025 La Comanda Ops
package notify

import (
	"context"
	"log"
	"sync"
)

// PublishFunc delivers an event to every subscriber of a tenant.
type PublishFunc func(tenantID string, event Event)

// TenantWatcher owns the change-feed subscription for one tenant and
// translates filtered changes into hub publications. The hub starts one
// when a tenant gains its first subscriber and stops it when the last
// subscriber leaves.
type TenantWatcher struct {
	tenantID string
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// StartWatcher opens a change-feed subscription for tenantID and runs
// the translation loop until the feed closes or Stop is called.
func StartWatcher(source ChangeSource, tenantID string, publish PublishFunc) (*TenantWatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	feed, err := source.Subscribe(ctx, tenantID)
	if err != nil {
		cancel()
		return nil, err
	}

	w := &TenantWatcher{
		tenantID: tenantID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(feed, publish)
	return w, nil
}

// run consumes the feed until it closes. Transient feed errors are
// surfaced to subscribers as error events and the subscription is kept;
// the feed's own retry semantics apply. A closed feed means either Stop
// cancelled the subscription or the feed failed for good, in which case
// the hub lazily recreates the watcher on the next subscribe.
func (w *TenantWatcher) run(feed <-chan ChangeBatch, publish PublishFunc) {
	defer close(w.done)
	defer w.Stop()

	for batch := range feed {
		if batch.Err != nil {
			log.Printf("Change feed error for tenant %s: %v", w.tenantID, batch.Err)
			publish(w.tenantID, ErrorEvent("change feed error: "+batch.Err.Error()))
			continue
		}
		for _, change := range batch.Changes {
			if event, ok := FilterChange(change); ok {
				publish(w.tenantID, event)
			}
		}
	}

	log.Printf("Change feed closed for tenant %s", w.tenantID)
}

// Stop cancels the underlying subscription. Calling Stop more than once
// is a no-op.
func (w *TenantWatcher) Stop() {
	w.stopOnce.Do(w.cancel)
}

// Done reports whether the watcher's feed loop has exited.
func (w *TenantWatcher) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
