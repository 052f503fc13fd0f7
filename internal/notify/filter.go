// Copyright (c) 2025 La Comanda Ops
package notify

// FilterChange returns the normalized new-order event for a change when
// the change is the creation of a pending order. Most changes are status
// transitions or unrelated field updates and produce nothing; that is
// the expected majority case, not an error.
func FilterChange(c Change) (Event, bool) {
	if c.Kind != ChangeAdded {
		return Event{}, false
	}
	if c.Order.Status != StatusPending {
		return Event{}, false
	}
	return NewOrderEvent(c.Order), true
}
