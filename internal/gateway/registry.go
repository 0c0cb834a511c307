package gateway

import (
	"sync"

	"github.com/toolgate-dev/toolgate/internal/logger"
)

// TransportRegistry holds at most one live transport per (user, app) pair.
// Registering over an existing entry closes the old transport before the new
// one becomes reachable, so a superseded session can never receive messages.
type TransportRegistry struct {
	mu         sync.Mutex
	transports map[string]map[string]*Transport
}

func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{
		transports: make(map[string]map[string]*Transport),
	}
}

// Register installs t as the transport for (userID, appName), closing any
// prior transport for the pair.
func (r *TransportRegistry) Register(userID, appName string, t *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byApp, ok := r.transports[userID]
	if !ok {
		byApp = make(map[string]*Transport)
		r.transports[userID] = byApp
	}

	if old := byApp[appName]; old != nil && old != t {
		old.Close()
		logger.Get().Info("superseded session closed",
			"user_id", userID,
			"app_name", appName,
			"old_session_id", old.SessionID(),
			"new_session_id", t.SessionID(),
		)
	}

	byApp[appName] = t
}

// Lookup returns the live transport for (userID, appName).
func (r *TransportRegistry) Lookup(userID, appName string) (*Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byApp, ok := r.transports[userID]
	if !ok {
		return nil, false
	}
	t, ok := byApp[appName]
	return t, ok
}

// Remove drops the registry entry for (userID, appName), but only if it still
// points at t. A disconnect that races a supersede must not evict the
// replacement transport.
func (r *TransportRegistry) Remove(userID, appName string, t *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byApp, ok := r.transports[userID]
	if !ok {
		return
	}
	if byApp[appName] != t {
		return
	}
	delete(byApp, appName)
	if len(byApp) == 0 {
		delete(r.transports, userID)
	}
}

// Len returns the number of registered transports across all users.
func (r *TransportRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, byApp := range r.transports {
		n += len(byApp)
	}
	return n
}
