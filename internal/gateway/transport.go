package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate-dev/toolgate/internal/logger"
	"github.com/toolgate-dev/toolgate/internal/session"
)

// TransportState tracks the lifecycle of one session channel.
type TransportState int32

const (
	StateUnopened TransportState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type sseEvent struct {
	name string
	data string
}

const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"

	keepaliveInterval = 15 * time.Second
)

// Transport binds one server-push event stream to a side channel of inbound
// messages correlated by session id. Outbound protocol traffic is framed as
// SSE events; inbound messages arrive via DeliverInbound on a later request.
type Transport struct {
	sessionID string
	endpoint  string

	state  atomic.Int32
	events chan sseEvent
	done   chan struct{}

	closeOnce sync.Once

	mu         sync.Mutex
	dispatcher ToolServer

	// serializes inbound dispatch so two messages for the same session are
	// processed in arrival order
	deliverMu sync.Mutex
}

// NewTransport allocates a transport with a fresh session id. messagePath is
// the delivery path advertised to the client; the session id is appended as a
// query parameter so later requests correlate back to this transport.
func NewTransport(messagePath string) *Transport {
	id := uuid.NewString()
	return &Transport{
		sessionID: id,
		endpoint:  fmt.Sprintf("%s?sessionId=%s", messagePath, id),
		events:    make(chan sseEvent, 32),
		done:      make(chan struct{}),
	}
}

// SessionID returns the correlation token for this transport.
func (t *Transport) SessionID() string { return t.sessionID }

// Endpoint returns the message delivery URL advertised to the client.
func (t *Transport) Endpoint() string { return t.endpoint }

// State returns the current lifecycle state.
func (t *Transport) State() TransportState {
	return TransportState(t.state.Load())
}

// Connect attaches the tool server whose dispatcher will handle inbound
// messages. Until this is called, deliveries fail with ErrNotReady.
func (t *Transport) Connect(ts ToolServer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatcher = ts
}

// Serve streams events to the client until it disconnects or the transport is
// closed. It writes the endpoint event first, which completes the open-session
// handshake by telling the client where to deliver messages.
func (t *Transport) Serve(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	if !t.state.CompareAndSwap(int32(StateUnopened), int32(StateOpen)) {
		return fmt.Errorf("transport %s: serve from state %s", t.sessionID, t.State())
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, sseEvent{name: eventEndpoint, data: t.endpoint})
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev := <-t.events:
			writeEvent(w, ev)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			t.Close()
			return nil
		case <-t.done:
			return nil
		}
	}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
}

// DeliverInbound dispatches one inbound protocol message to the attached tool
// server and pushes the response onto the event stream. Messages for the same
// session are processed in arrival order.
func (t *Transport) DeliverInbound(ctx context.Context, raw json.RawMessage) error {
	switch t.State() {
	case StateUnopened:
		return ErrNotReady
	case StateClosing, StateClosed:
		return ErrTransportClosed
	}

	t.mu.Lock()
	dispatcher := t.dispatcher
	t.mu.Unlock()
	if dispatcher == nil {
		return ErrNotReady
	}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	ctx = session.WithSessionID(ctx, t.sessionID)
	response := dispatcher.HandleMessage(ctx, raw)
	if response == nil {
		// Notifications have no response to push.
		return nil
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	select {
	case t.events <- sseEvent{name: eventMessage, data: string(payload)}:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the event stream. Idempotent: a client disconnect racing a
// registry eviction may close twice.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateClosing))
		close(t.done)
		t.state.Store(int32(StateClosed))
		logger.Get().Debug("transport closed", "session_id", t.sessionID)
	})
}
