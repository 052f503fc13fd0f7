// Copyright (c) 2025 La Comanda Ops
package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSource is an in-memory ChangeSource for tests. Each Subscribe
// forwards batches the test pushes via emit until its context is
// cancelled or the test closes the input side with fail.
//
// A subscription counts as active while its context is uncancelled.
// Watcher stop cancels the context synchronously under the hub's
// per-tenant lock, so active counts observed here are deterministic.
type fakeSource struct {
	mu        sync.Mutex
	inputs    map[string]chan ChangeBatch
	ctxs      map[string][]context.Context
	maxActive map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		inputs:    make(map[string]chan ChangeBatch),
		ctxs:      make(map[string][]context.Context),
		maxActive: make(map[string]int),
	}
}

func (f *fakeSource) Subscribe(ctx context.Context, tenantID string) (<-chan ChangeBatch, error) {
	in := make(chan ChangeBatch, 64)

	f.mu.Lock()
	f.inputs[tenantID] = in
	f.ctxs[tenantID] = append(f.ctxs[tenantID], ctx)
	if live := f.liveLocked(tenantID); live > f.maxActive[tenantID] {
		f.maxActive[tenantID] = live
	}
	f.mu.Unlock()

	out := make(chan ChangeBatch)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// emit pushes a batch onto the tenant's current feed.
func (f *fakeSource) emit(tenantID string, batch ChangeBatch) {
	f.mu.Lock()
	in := f.inputs[tenantID]
	f.mu.Unlock()
	if in != nil {
		in <- batch
	}
}

// fail closes the tenant's current feed, simulating an unrecoverable
// subscription failure.
func (f *fakeSource) fail(tenantID string) {
	f.mu.Lock()
	in := f.inputs[tenantID]
	delete(f.inputs, tenantID)
	f.mu.Unlock()
	if in != nil {
		close(in)
	}
}

func (f *fakeSource) liveLocked(tenantID string) int {
	live := 0
	for _, ctx := range f.ctxs[tenantID] {
		if ctx.Err() == nil {
			live++
		}
	}
	return live
}

func (f *fakeSource) activeFor(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveLocked(tenantID)
}

func (f *fakeSource) subscribedCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ctxs[tenantID])
}

func (f *fakeSource) maxActiveFor(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive[tenantID]
}

func addedPending(id string) ChangeBatch {
	return ChangeBatch{Changes: []Change{{
		Kind:  ChangeAdded,
		Order: Order{ID: id, TableID: "mesa-1", Status: StatusPending, CreatedAt: time.Now()},
	}}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for event")
		return Event{}
	}
}

func TestHubFanOutToAllSubscribers(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch1 := make(chan Event, DefaultSubscriberBuffer)
	ch2 := make(chan Event, DefaultSubscriberBuffer)

	id1, err := hub.Subscribe("t1", ch1)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	id2, err := hub.Subscribe("t1", ch2)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer hub.Unsubscribe("t1", id1)
	defer hub.Unsubscribe("t1", id2)

	if got := source.subscribedCount("t1"); got != 1 {
		t.Errorf("Expected 1 feed subscription for two subscribers, got %d", got)
	}

	source.emit("t1", addedPending("o1"))

	for _, ch := range []chan Event{ch1, ch2} {
		event := recvEvent(t, ch)
		if event.Type != EventNewOrder {
			t.Errorf("Expected %s event, got %s", EventNewOrder, event.Type)
		}
		if event.Data == nil || event.Data.ID != "o1" {
			t.Errorf("Expected order o1, got %+v", event.Data)
		}
	}

	// Exactly one frame per subscriber.
	select {
	case event := <-ch1:
		t.Errorf("Unexpected extra event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubNoSubscribersNoWatcher(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	// Nothing subscribed: publishing into the void must be a no-op and
	// no feed subscription may exist.
	hub.Publish("t1", NewOrderEvent(Order{ID: "o1", Status: StatusPending}))

	if hub.WatcherActive("t1") {
		t.Errorf("Expected no active watcher for tenant without subscribers")
	}
	if got := source.subscribedCount("t1"); got != 0 {
		t.Errorf("Expected 0 feed subscriptions, got %d", got)
	}
}

func TestHubLastUnsubscribeStopsWatcher(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch1 := make(chan Event, DefaultSubscriberBuffer)
	ch2 := make(chan Event, DefaultSubscriberBuffer)
	id1, _ := hub.Subscribe("t1", ch1)
	id2, _ := hub.Subscribe("t1", ch2)

	hub.Unsubscribe("t1", id1)
	if !hub.WatcherActive("t1") {
		t.Errorf("Watcher must stay up while a subscriber remains")
	}

	hub.Unsubscribe("t1", id2)
	waitFor(t, 2*time.Second, func() bool {
		return source.activeFor("t1") == 0
	}, "feed subscription teardown")
	if hub.WatcherActive("t1") {
		t.Errorf("Expected watcher stopped after last unsubscribe")
	}
}

func TestHubUnsubscribeUnknownIDIsNoOp(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	hub.Unsubscribe("t1", "nope")

	ch := make(chan Event, DefaultSubscriberBuffer)
	id, _ := hub.Subscribe("t1", ch)
	hub.Unsubscribe("t1", "still-nope")
	if hub.SubscriberCount("t1") != 1 {
		t.Errorf("Unknown unsubscribe must not remove real subscriptions")
	}
	hub.Unsubscribe("t1", id)
	hub.Unsubscribe("t1", id)
	if hub.SubscriberCount("t1") != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe")
	}
}

func TestHubDeliveryOrderPerSubscriber(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch := make(chan Event, DefaultSubscriberBuffer)
	id, _ := hub.Subscribe("t1", ch)
	defer hub.Unsubscribe("t1", id)

	for i := 0; i < 5; i++ {
		source.emit("t1", addedPending(fmt.Sprintf("o%d", i)))
	}

	for i := 0; i < 5; i++ {
		event := recvEvent(t, ch)
		want := fmt.Sprintf("o%d", i)
		if event.Data == nil || event.Data.ID != want {
			t.Fatalf("Expected order %s at position %d, got %+v", want, i, event.Data)
		}
	}
}

func TestHubPublishDropsOldestOnOverflow(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	// Deliberately tiny queue, never drained during publishing.
	ch := make(chan Event, 2)
	id, _ := hub.Subscribe("t1", ch)
	defer hub.Unsubscribe("t1", id)

	for i := 0; i < 4; i++ {
		hub.Publish("t1", NewOrderEvent(Order{ID: fmt.Sprintf("o%d", i), Status: StatusPending}))
	}

	// o0 and o1 were shed to make room for the newer events.
	first := recvEvent(t, ch)
	second := recvEvent(t, ch)
	if first.Data.ID != "o2" || second.Data.ID != "o3" {
		t.Errorf("Expected newest events o2,o3 after overflow, got %s,%s", first.Data.ID, second.Data.ID)
	}
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	slow := make(chan Event, 1)
	fast := make(chan Event, DefaultSubscriberBuffer)
	slowID, _ := hub.Subscribe("t1", slow)
	fastID, _ := hub.Subscribe("t1", fast)
	defer hub.Unsubscribe("t1", slowID)
	defer hub.Unsubscribe("t1", fastID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Publish("t1", NewOrderEvent(Order{ID: fmt.Sprintf("o%d", i), Status: StatusPending}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber queue")
	}

	for i := 0; i < 10; i++ {
		event := recvEvent(t, fast)
		want := fmt.Sprintf("o%d", i)
		if event.Data.ID != want {
			t.Fatalf("Fast subscriber got %s at position %d, want %s", event.Data.ID, i, want)
		}
	}
}

func TestHubDisconnectOneClientKeepsOthers(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch1 := make(chan Event, DefaultSubscriberBuffer)
	ch2 := make(chan Event, DefaultSubscriberBuffer)
	id1, _ := hub.Subscribe("t1", ch1)
	id2, _ := hub.Subscribe("t1", ch2)
	defer hub.Unsubscribe("t1", id2)

	hub.Unsubscribe("t1", id1)

	source.emit("t1", addedPending("o1"))
	event := recvEvent(t, ch2)
	if event.Data == nil || event.Data.ID != "o1" {
		t.Errorf("Remaining subscriber must keep receiving, got %+v", event)
	}

	select {
	case event := <-ch1:
		t.Errorf("Unsubscribed channel received event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubConcurrentSubscribeUnsubscribeSingleWatcher(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				ch := make(chan Event, DefaultSubscriberBuffer)
				id, err := hub.Subscribe("t1", ch)
				if err != nil {
					t.Errorf("Subscribe failed: %v", err)
					return
				}
				hub.Unsubscribe("t1", id)
			}
		}()
	}
	wg.Wait()

	if got := source.maxActiveFor("t1"); got > 1 {
		t.Errorf("Observed %d concurrent feed subscriptions for one tenant, want at most 1", got)
	}
	waitFor(t, 2*time.Second, func() bool {
		return source.activeFor("t1") == 0
	}, "all feed subscriptions torn down")
}

func TestHubTenantIsolation(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch1 := make(chan Event, DefaultSubscriberBuffer)
	ch2 := make(chan Event, DefaultSubscriberBuffer)
	id1, _ := hub.Subscribe("t1", ch1)
	id2, _ := hub.Subscribe("t2", ch2)
	defer hub.Unsubscribe("t1", id1)
	defer hub.Unsubscribe("t2", id2)

	source.emit("t1", addedPending("o1"))

	event := recvEvent(t, ch1)
	if event.Data.ID != "o1" {
		t.Errorf("Expected o1 on t1, got %+v", event.Data)
	}
	select {
	case event := <-ch2:
		t.Errorf("Tenant t2 received t1's event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRestartsWatcherAfterFatalFeedFailure(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)
	defer hub.Close()

	ch1 := make(chan Event, DefaultSubscriberBuffer)
	id1, _ := hub.Subscribe("t1", ch1)
	defer hub.Unsubscribe("t1", id1)

	source.fail("t1")
	waitFor(t, 2*time.Second, func() bool {
		return !hub.WatcherActive("t1")
	}, "watcher to observe fatal feed failure")

	// Next subscribe lazily recreates the watcher.
	ch2 := make(chan Event, DefaultSubscriberBuffer)
	id2, err := hub.Subscribe("t1", ch2)
	if err != nil {
		t.Fatalf("Subscribe after feed failure: %v", err)
	}
	defer hub.Unsubscribe("t1", id2)

	if got := source.subscribedCount("t1"); got != 2 {
		t.Errorf("Expected a fresh feed subscription, total 2, got %d", got)
	}

	source.emit("t1", addedPending("o9"))
	event := recvEvent(t, ch2)
	if event.Data == nil || event.Data.ID != "o9" {
		t.Errorf("Expected o9 after watcher restart, got %+v", event)
	}
}

func TestHubCloseStopsWatchersAndRejectsSubscribes(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source)

	ch := make(chan Event, DefaultSubscriberBuffer)
	if _, err := hub.Subscribe("t1", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	hub.Close()
	waitFor(t, 2*time.Second, func() bool {
		return source.activeFor("t1") == 0
	}, "watcher teardown on close")

	if _, err := hub.Subscribe("t1", ch); err == nil {
		t.Errorf("Expected Subscribe to fail after Close")
	}
}
