// Copyright (c) 2025 La Comanda Ops
package display

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/la-comanda/internal/notify"
)

// State is the connection lifecycle state of a Reconnector.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reconnecting tighter than this would stampede the server when a whole
// restaurant's displays drop at once.
const minReconnectDelay = 1 * time.Second

// Reconnector maintains the long-lived event stream connection to the
// comanda server for one tenant. When the transport drops it schedules
// a single redial after a fixed delay; an explicit Disconnect cancels
// any pending redial and stays down.
type Reconnector struct {
	serverURL  string
	tenantID   string
	delay      time.Duration
	httpClient *http.Client

	mu         sync.Mutex
	state      State
	onNewOrder func(notify.Order)
	onState    func(State)
	cancel     context.CancelFunc
	retryTimer *time.Timer
	stopped    bool
}

// NewReconnector creates a client for one tenant's event stream. The
// reconnect delay is floored at one second.
func NewReconnector(serverURL, tenantID string, delay time.Duration) *Reconnector {
	if delay < minReconnectDelay {
		delay = minReconnectDelay
	}
	return &Reconnector{
		serverURL:  strings.TrimRight(serverURL, "/"),
		tenantID:   tenantID,
		delay:      delay,
		httpClient: &http.Client{},
	}
}

// OnNewOrder registers the callback invoked for each new-order event.
// Last registration wins. Registering does not open a connection.
func (r *Reconnector) OnNewOrder(fn func(notify.Order)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNewOrder = fn
}

// OnStateChange registers a callback for lifecycle transitions, for a
// "reconnecting" indicator in the display UI.
func (r *Reconnector) OnStateChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// State returns the current lifecycle state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect opens the event stream. On transport failure after a
// successful open, the reconnector redials by itself; a dial error here
// also schedules a retry, so one Connect call keeps the display served
// until Disconnect.
func (r *Reconnector) Connect() error {
	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return fmt.Errorf("event stream already open for tenant %s", r.tenantID)
	}
	r.stopped = false
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.state = StateConnecting
	cb := r.onState
	r.mu.Unlock()
	if cb != nil {
		cb(StateConnecting)
	}

	resp, err := r.dial(ctx)
	if err != nil {
		r.handleTransportFailure(fmt.Errorf("dial failed: %w", err))
		return err
	}

	r.mu.Lock()
	if r.stopped {
		// Disconnect raced the dial; drop the fresh connection.
		r.mu.Unlock()
		resp.Body.Close()
		return fmt.Errorf("disconnected while dialing")
	}
	r.state = StateConnected
	cb = r.onState
	r.mu.Unlock()
	if cb != nil {
		cb(StateConnected)
	}

	log.Printf("Event stream connected (tenant %s)", r.tenantID)
	go r.readLoop(ctx, resp)
	return nil
}

// Disconnect tears the connection down for good: it cancels any pending
// reconnect attempt and the reconnector stays disconnected until the
// next explicit Connect. This is the path for display shutdown and
// tenant switches.
func (r *Reconnector) Disconnect() {
	r.mu.Lock()
	r.stopped = true
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	changed := r.state != StateDisconnected
	r.state = StateDisconnected
	cb := r.onState
	r.mu.Unlock()

	if changed && cb != nil {
		cb(StateDisconnected)
	}
	log.Printf("Event stream disconnected (tenant %s)", r.tenantID)
}

func (r *Reconnector) dial(ctx context.Context) (*http.Response, error) {
	streamURL := fmt.Sprintf("%s/events?restauranteId=%s", r.serverURL, url.QueryEscape(r.tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// readLoop consumes frames until the transport drops. An error frame is
// informational and keeps the stream open; only a transport-level
// failure triggers the reconnect path.
func (r *Reconnector) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		r.dispatch(strings.TrimPrefix(line, "data: "))
	}

	if ctx.Err() != nil {
		// Explicit disconnect closed the transport.
		return
	}

	log.Printf("Event stream lost (tenant %s): %v, will reconnect in %s", r.tenantID, scanner.Err(), r.delay)
	r.handleTransportFailure(scanner.Err())
}

// handleTransportFailure moves to DISCONNECTED and schedules exactly
// one reconnect attempt, unless Disconnect already happened.
func (r *Reconnector) handleTransportFailure(err error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	changed := r.state != StateDisconnected
	r.state = StateDisconnected
	cb := r.onState
	if !r.stopped {
		if r.retryTimer != nil {
			r.retryTimer.Stop()
		}
		r.retryTimer = time.AfterFunc(r.delay, r.retry)
	}
	r.mu.Unlock()

	if changed && cb != nil {
		cb(StateDisconnected)
	}
}

func (r *Reconnector) retry() {
	r.mu.Lock()
	r.retryTimer = nil
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	log.Printf("Reconnecting event stream (tenant %s)...", r.tenantID)
	if err := r.Connect(); err != nil {
		log.Printf("Reconnect failed (tenant %s): %v", r.tenantID, err)
	}
}

// dispatch routes one frame payload by type.
func (r *Reconnector) dispatch(payload string) {
	var event notify.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		log.Printf("Failed to parse event frame: %v", err)
		return
	}

	switch event.Type {
	case notify.EventConnected:
		log.Printf("Server acknowledged stream: %s", event.Message)
	case notify.EventNewOrder:
		r.mu.Lock()
		cb := r.onNewOrder
		r.mu.Unlock()
		if cb != nil && event.Data != nil {
			cb(*event.Data)
		}
	case notify.EventError:
		// The server kept the stream open; the display may refresh its
		// order list if it wants certainty.
		log.Printf("Server reported feed error: %s", event.Message)
	default:
		log.Printf("Ignoring unknown event type %q", event.Type)
	}
}
