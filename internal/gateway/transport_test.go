package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-dev/toolgate/internal/session"
)

// echoToolServer replies to every request with a fixed result and records the
// session id and metadata it observed on the dispatch context.
type echoToolServer struct {
	name     string
	contexts *session.Store

	mu            sync.Mutex
	seenSessionID string
	seenMeta      session.Metadata
}

func (e *echoToolServer) Name() string { return e.name }

func (e *echoToolServer) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	e.mu.Lock()
	e.seenSessionID = session.SessionIDFrom(ctx)
	if e.contexts != nil {
		e.seenMeta = session.MetadataFrom(ctx, e.contexts)
	}
	e.mu.Unlock()

	var req struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(message, &req)
	if req.ID == nil {
		// notification
		return nil
	}
	return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "ok"}
}

func (e *echoToolServer) observedSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seenSessionID
}

func (e *echoToolServer) observedMeta() session.Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seenMeta
}

func TestTransportEndpointCarriesSessionID(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	assert.NotEmpty(t, tr.SessionID())
	assert.Equal(t, "/alice/search_bot/message?sessionId="+tr.SessionID(), tr.Endpoint())
	assert.Equal(t, StateUnopened, tr.State())
}

func TestTransportDeliverBeforeServeIsNotReady(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	err := tr.DeliverInbound(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestTransportDeliverAfterCloseFails(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	tr.Close()
	err := tr.DeliverInbound(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, StateClosed, tr.State())
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	assert.NotPanics(t, func() {
		tr.Close()
		tr.Close()
	})
}

func TestTransportServeStreamsHandshakeAndResponses(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	echo := &echoToolServer{name: "search_bot"}
	tr.Connect(echo)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/alice/search_bot/sse", nil)

	served := make(chan error, 1)
	go func() {
		served <- tr.Serve(rec, req)
	}()

	// Wait for the stream to open before delivering.
	require.Eventually(t, func() bool {
		return tr.State() == StateOpen
	}, time.Second, time.Millisecond)

	err := tr.DeliverInbound(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, tr.SessionID(), echo.observedSessionID())

	// Give the pump a moment to drain the event before closing.
	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "event: message")
	}, time.Second, time.Millisecond)

	tr.Close()
	require.NoError(t, <-served)

	body := rec.Body.String()
	assert.Contains(t, body, "event: endpoint")
	assert.Contains(t, body, tr.Endpoint())
	assert.Contains(t, body, `"result":"ok"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, StateClosed, tr.State())
}

func TestTransportServeTwiceRejected(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	tr.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/alice/search_bot/sse", nil)
	err := tr.Serve(rec, req)
	assert.Error(t, err, "serving a closed transport must fail")
}

func TestTransportNotificationProducesNoEvent(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	echo := &echoToolServer{name: "search_bot"}
	tr.Connect(echo)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/alice/search_bot/sse", nil)
	served := make(chan error, 1)
	go func() {
		served <- tr.Serve(rec, req)
	}()
	require.Eventually(t, func() bool {
		return tr.State() == StateOpen
	}, time.Second, time.Millisecond)

	err := tr.DeliverInbound(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)

	tr.Close()
	require.NoError(t, <-served)
	assert.NotContains(t, rec.Body.String(), "event: message")
}

func TestTransportClientDisconnectClosesTransport(t *testing.T) {
	tr := NewTransport("/alice/search_bot/message")
	tr.Connect(&echoToolServer{name: "search_bot"})

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/alice/search_bot/sse", nil).WithContext(ctx)

	served := make(chan error, 1)
	go func() {
		served <- tr.Serve(rec, req)
	}()
	require.Eventually(t, func() bool {
		return tr.State() == StateOpen
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-served)
	assert.Equal(t, StateClosed, tr.State())
}
