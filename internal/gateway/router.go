package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate-dev/toolgate/internal/logger"
	"github.com/toolgate-dev/toolgate/internal/metrics"
	"github.com/toolgate-dev/toolgate/internal/session"
)

// maxMessageBytes bounds a single inbound protocol message.
const maxMessageBytes = 4 << 20

// Gateway routes session traffic between callers and registered tool servers.
// It owns the transport registry and the session context store; the app
// registry is fixed at construction.
type Gateway struct {
	apps       *AppRegistry
	transports *TransportRegistry
	contexts   *session.Store
}

func New(apps *AppRegistry, contexts *session.Store) *Gateway {
	return &Gateway{
		apps:       apps,
		transports: NewTransportRegistry(),
		contexts:   contexts,
	}
}

// Transports exposes the registry for tests and introspection.
func (g *Gateway) Transports() *TransportRegistry { return g.transports }

// Routes returns the HTTP surface of the gateway: a long-lived event stream
// per (user, app) pair and a message delivery endpoint correlated by session
// id.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{userID}/{appName}/sse", g.handleOpenSession)
	r.Post("/{userID}/{appName}/message", g.handleDeliverMessage)
	return r
}

func (g *Gateway) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	appName := chi.URLParam(r, "appName")
	log := logger.WithContext(r.Context())

	toolServer, ok := g.apps.Resolve(appName)
	if !ok {
		log.Warn("open session for unknown app", "user_id", userID, "app_name", appName)
		http.Error(w, fmt.Sprintf("%v: %s", ErrUnknownApp, appName), http.StatusNotFound)
		return
	}

	t := NewTransport(fmt.Sprintf("/%s/%s/message", userID, appName))
	g.contexts.Put(t.SessionID(), session.FromHeaders(r.Header))
	g.transports.Register(userID, appName, t)
	t.Connect(toolServer)

	metrics.ToolgateOpenSessions.WithLabelValues(appName).Inc()
	log.Info("session opened",
		"user_id", userID,
		"app_name", appName,
		"session_id", t.SessionID(),
	)

	err := t.Serve(w, r)

	// Serve returns when the client disconnects or the transport is closed.
	// Remove is owner-checked, so a superseding session is never evicted here.
	t.Close()
	g.transports.Remove(userID, appName, t)
	g.contexts.Evict(t.SessionID())
	metrics.ToolgateOpenSessions.WithLabelValues(appName).Dec()

	if err != nil {
		log.Error("session stream failed",
			"user_id", userID,
			"app_name", appName,
			"session_id", t.SessionID(),
			"error", err,
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info("session closed",
		"user_id", userID,
		"app_name", appName,
		"session_id", t.SessionID(),
	)
}

func (g *Gateway) handleDeliverMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	appName := chi.URLParam(r, "appName")
	sessionID := r.URL.Query().Get("sessionId")
	log := logger.WithContext(r.Context())

	if _, ok := g.apps.Resolve(appName); !ok {
		g.rejectMessage(w, log, appName, fmt.Sprintf("%v: %s", ErrUnknownApp, appName), http.StatusNotFound, "unknown_app")
		return
	}

	t, ok := g.transports.Lookup(userID, appName)
	if !ok {
		g.rejectMessage(w, log, appName, fmt.Sprintf("%v for %s/%s", ErrNoTransport, userID, appName), http.StatusNotFound, "no_session")
		return
	}

	if sessionID != "" && sessionID != t.SessionID() {
		g.rejectMessage(w, log, appName, fmt.Sprintf("%v: %s", ErrSessionNotFound, sessionID), http.StatusNotFound, "session_not_found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		g.rejectMessage(w, log, appName, "failed to read message body", http.StatusBadRequest, "bad_body")
		return
	}

	// Refresh the context snapshot: credentials may be re-supplied per message
	// and the last writer wins.
	g.contexts.Put(t.SessionID(), session.FromHeaders(r.Header))

	switch err := t.DeliverInbound(r.Context(), body); err {
	case nil:
		metrics.ToolgateMessagesDelivered.WithLabelValues(appName, "accepted").Inc()
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "Accepted")
	case ErrNotReady:
		g.rejectMessage(w, log, appName, err.Error(), http.StatusServiceUnavailable, "not_ready")
	case ErrTransportClosed:
		g.rejectMessage(w, log, appName, err.Error(), http.StatusNotFound, "transport_closed")
	default:
		log.Error("message delivery failed",
			"app_name", appName,
			"session_id", t.SessionID(),
			"error", err,
		)
		metrics.ToolgateMessagesDelivered.WithLabelValues(appName, "error").Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (g *Gateway) rejectMessage(w http.ResponseWriter, log *slog.Logger, appName, msg string, status int, reason string) {
	log.Warn("message rejected", "app_name", appName, "reason", reason)
	metrics.ToolgateMessagesDelivered.WithLabelValues(appName, reason).Inc()
	http.Error(w, msg, status)
}
