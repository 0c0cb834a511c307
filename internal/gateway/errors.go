package gateway

import "errors"

// Routing and lifecycle errors surfaced to callers. None of these indicate a
// gateway fault; they map to client-visible HTTP statuses in the router.
var (
	// ErrUnknownApp means the requested app name has no registered tool server.
	ErrUnknownApp = errors.New("unknown app")

	// ErrNoTransport means no session channel is open for the (user, app) pair.
	ErrNoTransport = errors.New("no open session")

	// ErrSessionNotFound means the supplied session id does not match the live
	// transport, typically because the session was superseded or timed out.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTransportClosed means the transport stopped accepting messages.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNotReady means the transport exists but its tool server handshake has
	// not completed yet. Callers should retry.
	ErrNotReady = errors.New("transport not ready")

	// ErrStreamingUnsupported means the client connection cannot carry a
	// server-push event stream.
	ErrStreamingUnsupported = errors.New("streaming unsupported by connection")
)
