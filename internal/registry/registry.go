// Package registry tracks which live connection each user is bound to.
//
// Bindings live only in process memory. A user has at most one binding (the
// most recent connection wins) and a connection is bound to at most one user.
package registry

import (
	"sort"
	"sync"
)

// Conn is a live connection that can receive encoded frames.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

type binding struct {
	userID string
	conn   Conn
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]binding // conn id -> binding
	byUser map[string]string  // user id -> conn id
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byConn: make(map[string]binding),
		byUser: make(map[string]string),
	}
}

// Bind associates conn with userID. A previous connection of the same user
// keeps running but loses its binding; a previous user of the same connection
// is unbound.
func (r *Registry) Bind(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if prev, ok := r.byConn[connID]; ok && prev.userID != userID {
		if r.byUser[prev.userID] == connID {
			delete(r.byUser, prev.userID)
		}
	}
	if oldConnID, ok := r.byUser[userID]; ok && oldConnID != connID {
		delete(r.byConn, oldConnID)
	}

	r.byConn[connID] = binding{userID: userID, conn: conn}
	r.byUser[userID] = connID
}

// Unbind removes the user's binding. Unbinding an unknown user is a no-op.
func (r *Registry) Unbind(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connID, ok := r.byUser[userID]; ok {
		delete(r.byConn, connID)
		delete(r.byUser, userID)
	}
}

// Release drops whatever binding conn holds and returns the user it was bound
// to. ok is false when the connection was not bound, including when a newer
// connection already took over its user.
func (r *Registry) Release(conn Conn) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	b, found := r.byConn[connID]
	if !found {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byUser[b.userID] == connID {
		delete(r.byUser, b.userID)
	}
	return b.userID, true
}

// Lookup returns the connection bound to userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	b, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return b.conn, true
}

// UserOf returns the user bound to conn.
func (r *Registry) UserOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byConn[conn.ID()]
	return b.userID, ok
}

// IsOnline reports whether userID currently has a binding.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]
	return ok
}

// ListAll returns every bound connection, ordered by connection id.
func (r *Registry) ListAll() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byConn))
	for _, b := range r.byConn {
		conns = append(conns, b.conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
