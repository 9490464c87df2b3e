package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry tracks live connections, the user owning each, and the channels each user joined.
//
// Reconnect semantics are last-writer-wins: one live connection per user. A newer
// connection replaces the older one, and the older client is closed explicitly so its
// transport does not linger without a registry entry.
//
// All operations are total: unknown users, connections and channels are no-ops or empty results.
// A single RWMutex guards every map, which keeps join/leave/disconnect races free of lost updates.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]*session            // user id -> current session
	conns map[string]string              // conn id -> user id, current sessions only
	index map[string]map[string]struct{} // channel -> user ids
}

type session struct {
	client   *Client
	channels map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		users: make(map[string]*session),
		conns: make(map[string]string),
		index: make(map[string]map[string]struct{}),
	}
}

// Register records client as the live connection of userID and joins its personal channel.
// It returns the connection it replaced, if any; that client has already been closed.
func (r *Registry) Register(userID string, client *Client) (replaced *Client) {
	if userID == "" || client == nil || client.ConnID == "" {
		return nil
	}

	r.mu.Lock()
	if prev, ok := r.users[userID]; ok {
		if prev.client == client {
			r.mu.Unlock()
			return nil
		}
		r.dropLocked(userID, prev)
		replaced = prev.client
	}

	s := &session{client: client, channels: make(map[string]struct{})}
	r.users[userID] = s
	r.conns[client.ConnID] = userID
	r.addLocked(userID, s, PersonalChannel(userID))
	r.mu.Unlock()

	if replaced != nil {
		replaced.Replace()
		r.log.Info("registry.replaced", "user_id", userID, "old_conn_id", replaced.ConnID, "conn_id", client.ConnID)
	}
	return replaced
}

// Unregister removes connID. It returns the owning user id, or ok=false when the
// connection is unknown or was already replaced by a newer one.
func (r *Registry) Unregister(connID string) (userID string, ok bool) {
	if connID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.conns[connID]
	if !ok {
		return "", false
	}
	if s := r.users[userID]; s != nil && s.client.ConnID == connID {
		r.dropLocked(userID, s)
	}
	delete(r.conns, connID)
	return userID, true
}

// AddChannel joins userID to channel. Idempotent; no-op for users without a live connection.
func (r *Registry) AddChannel(userID, channel string) {
	if channel == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.users[userID]; s != nil {
		r.addLocked(userID, s, channel)
	}
}

// RemoveChannel leaves channel. Idempotent.
func (r *Registry) RemoveChannel(userID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.users[userID]
	if s == nil {
		return
	}
	if _, ok := s.channels[channel]; !ok {
		return
	}
	delete(s.channels, channel)
	r.unindexLocked(userID, channel)
}

// ChannelsOf returns a sorted copy of the channels userID joined; empty when offline.
func (r *Registry) ChannelsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.users[userID]
	if s == nil {
		return []string{}
	}
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// HasChannel reports whether userID currently joined channel.
func (r *Registry) HasChannel(userID, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.users[userID]
	if s == nil {
		return false
	}
	_, ok := s.channels[channel]
	return ok
}

// Members returns the live clients subscribed to channel at the moment of the call.
func (r *Registry) Members(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.index[channel]
	out := make([]*Client, 0, len(users))
	for u := range users {
		if s := r.users[u]; s != nil {
			out = append(out, s.client)
		}
	}
	return out
}

// Client returns the live client of userID.
func (r *Registry) Client(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.users[userID]
	if s == nil {
		return nil, false
	}
	return s.client, true
}

// Current reports whether c is still the registered connection of its user.
func (r *Registry) Current(c *Client) bool {
	if c == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.users[c.UserID]
	return s != nil && s.client == c
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) addLocked(userID string, s *session, channel string) {
	if _, ok := s.channels[channel]; ok {
		return
	}
	s.channels[channel] = struct{}{}
	set := r.index[channel]
	if set == nil {
		set = make(map[string]struct{})
		r.index[channel] = set
	}
	set[userID] = struct{}{}
}

func (r *Registry) dropLocked(userID string, s *session) {
	for ch := range s.channels {
		r.unindexLocked(userID, ch)
	}
	delete(r.users, userID)
	delete(r.conns, s.client.ConnID)
}

func (r *Registry) unindexLocked(userID, channel string) {
	set := r.index[channel]
	if set == nil {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(r.index, channel)
	}
}
