package session

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/toolgate-dev/toolgate/internal/logger"
)

// Metadata is a snapshot of caller-supplied request metadata, captured when a
// session channel is opened and refreshed on every message delivered for it.
// Header names are stored lower-cased.
type Metadata map[string]string

// Get returns the value for a lower-cased key, or "" when absent.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[strings.ToLower(key)]
}

// FromHeaders flattens an http.Header into a Metadata snapshot. Multi-valued
// headers keep their first value, matching what callers send in practice.
func FromHeaders(h http.Header) Metadata {
	meta := make(Metadata, len(h))
	for name, values := range h {
		if len(values) > 0 {
			meta[strings.ToLower(name)] = values[0]
		}
	}
	return meta
}

type entry struct {
	meta        Metadata
	refreshedAt time.Time
}

// Store maps a session id to the metadata captured for it. Writes overwrite,
// reads of a missing session return an empty Metadata rather than an error.
// Entries are evicted when the owning transport closes; the TTL sweep is a
// backstop for sessions whose close was never observed.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session context store. If ttl is positive a background
// sweeper drops entries not refreshed within ttl, checking every sweepInterval.
func NewStore(ttl, sweepInterval time.Duration) *Store {
	s := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	if ttl > 0 {
		if sweepInterval <= 0 {
			sweepInterval = time.Minute
		}
		go s.sweep(sweepInterval)
	}

	return s
}

// Put records metadata for a session. Last writer wins.
func (s *Store) Put(sessionID string, meta Metadata) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = entry{meta: meta, refreshedAt: time.Now()}
}

// Get returns the metadata for a session. A missing or expired session yields
// an empty Metadata so callers proceed unauthenticated instead of failing.
func (s *Store) Get(sessionID string) Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return Metadata{}
	}
	if s.ttl > 0 && time.Since(e.refreshedAt) > s.ttl {
		return Metadata{}
	}
	return e.meta
}

// Evict drops the entry for a session. Safe to call for unknown sessions.
func (s *Store) Evict(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweeper. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dropExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) dropExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for id, e := range s.entries {
		if time.Since(e.refreshedAt) > s.ttl {
			delete(s.entries, id)
			dropped++
		}
	}
	if dropped > 0 {
		logger.Get().Debug("session context sweep", "expired_sessions", dropped)
	}
}
