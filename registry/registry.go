// Package registry implements the client registry: the set of live sessions,
// each with its own per-session event/node subscription filter, and the
// fan-out of events to whichever sessions match. The session map and each
// session's subscription sets are concurrent-safe.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// wildcard is the sentinel nodeId meaning "any node".
const wildcard = "*"

// Sender writes one already-encoded JSON line to a session's underlying
// connection. The Session Handler supplies this at AddSession time; the
// registry itself never buffers or orders writes.
type Sender func(line []byte) error

// Session is one live client connection's registry-side state: its
// server-local id, the optional clientId reported by a hello message, and its
// subscription filter (event name → set of nodeIds, "*" meaning any node).
type Session struct {
	ID uuid.UUID

	sendMu sync.Mutex
	send   Sender

	mu       sync.RWMutex
	clientID string
	subs     map[string]map[string]struct{}

	authMu   sync.RWMutex
	authRole string
}

func newSession(send Sender) *Session {
	return &Session{
		ID:   uuid.New(),
		send: send,
		subs: make(map[string]map[string]struct{}),
	}
}

// SetClientID records the clientId reported by a hello message.
func (s *Session) SetClientID(id string) {
	s.mu.Lock()
	s.clientID = id
	s.mu.Unlock()
}

// ClientID returns the clientId, if one has been set.
func (s *Session) ClientID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID, s.clientID != ""
}

// SetAuthRole records the role of the most recent successful auth on this
// session, used to gate update_user/delete_user.
func (s *Session) SetAuthRole(role string) {
	s.authMu.Lock()
	s.authRole = role
	s.authMu.Unlock()
}

// AuthRole returns the role recorded by the last successful auth, or "" if
// the session has never authenticated.
func (s *Session) AuthRole() string {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.authRole
}

// Subscribe unions nodes into events' subscription sets. "*" in nodes means
// "any node" for that event. Subscribing twice is idempotent (set semantics).
func (s *Session) Subscribe(events, nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		set, ok := s.subs[ev]
		if !ok {
			set = make(map[string]struct{})
			s.subs[ev] = set
		}
		for _, n := range nodes {
			set[n] = struct{}{}
		}
	}
}

// Unsubscribe subtracts nodes from events' subscription sets.
func (s *Session) Unsubscribe(events, nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		set, ok := s.subs[ev]
		if !ok {
			continue
		}
		for _, n := range nodes {
			delete(set, n)
		}
	}
}

// matches reports whether this session's filter admits an event of the given
// name targeting nodeID.
func (s *Session) matches(event, nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.subs[event]
	if !ok {
		return false
	}
	if _, ok := set[wildcard]; ok {
		return true
	}
	_, ok = set[nodeID]
	return ok
}

// Send writes a pre-encoded line directly to this session, bypassing the
// subscription filter — used for point-to-point replies (welcome, ack, …),
// which are never subscription-driven.
func (s *Session) Send(line []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.send(line)
}

// Registry holds every live session, keyed by its uuid.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// AddSession creates a fresh Session backed by send and registers it.
func (r *Registry) AddSession(send Sender) *Session {
	s := newSession(send)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// RemoveSession deregisters s. Idempotent: once it returns, s is guaranteed
// never to be targeted by a subsequent broadcast.
func (r *Registry) RemoveSession(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot returns a stable slice of every currently registered session. It
// is what makes RemoveSession-then-broadcast race-free: a session deleted
// under the write lock before this call simply never appears here.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// BroadcastSensorUpdate sends line to every session subscribed to
// "sensor_update" for nodeID (or "*").
func (r *Registry) BroadcastSensorUpdate(nodeID string, line []byte) {
	for _, s := range r.snapshot() {
		if s.matches("sensor_update", nodeID) {
			_ = s.Send(line)
		}
	}
}

// BroadcastNodeChange sends line to every session that subscribed to
// "node_change" with the "*" wildcard — node_change routes on event name
// only, never per-node.
func (r *Registry) BroadcastNodeChange(line []byte) {
	for _, s := range r.snapshot() {
		if s.matches("node_change", wildcard) {
			_ = s.Send(line)
		}
	}
}
