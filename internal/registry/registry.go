// Package registry tracks live client connections and the room each one
// currently occupies.
package registry

import (
	"errors"
	"sync"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrConnectionNotFound  = errors.New("connection not found")
)

// Outbox delivers outbound events to a connected client.
//
// Send must not block: it reports false when the event could not be queued
// (connection closing or send queue full) and the event is dropped.
type Outbox interface {
	Send(msg any) bool
}

// Connection is a snapshot of one registry entry.
type Connection struct {
	ID     string
	Name   string
	RoomID string
	Outbox Outbox
}

// InRoom reports whether the connection is currently a member of a room.
func (c Connection) InRoom() bool { return c.RoomID != "" }

// Registry maps connection ids to their identity and room pointer. It is safe
// for concurrent use and independent of any room lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Register creates an entry with no room. Registering an id twice is a
// programming error and reports ErrDuplicateConnection.
func (r *Registry) Register(id, name string, out Outbox) (Connection, error) {
	if id == "" {
		return Connection{}, errors.New("connection id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return Connection{}, ErrDuplicateConnection
	}
	c := &Connection{ID: id, Name: name, Outbox: out}
	r.conns[id] = c
	return *c, nil
}

func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// SetRoom updates the membership pointer. An empty roomID clears it.
func (r *Registry) SetRoom(id, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	c.RoomID = roomID
	return nil
}

// Unregister removes the entry and returns the room it was in so the caller
// can cascade cleanup. Unregistering an unknown id is a no-op.
func (r *Registry) Unregister(id string) (roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ""
	}
	delete(r.conns, id)
	return c.RoomID
}

// Send delivers msg to the connection's outbox. Delivery to an unknown or
// saturated connection is silently dropped.
func (r *Registry) Send(id string, msg any) bool {
	c, ok := r.Lookup(id)
	if !ok || c.Outbox == nil {
		return false
	}
	return c.Outbox.Send(msg)
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns all registered connection ids in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
