package websocket

import (
	"sync"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// Registry tracks live connections and the conversation groups they joined.
// ARCHITECTURAL DISCOVERY: RWMutex fits the access pattern; every broadcast
// reads a group snapshot while joins and leaves happen once per connection.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connID -> Connection
	groups      map[string]map[string]interfaces.Connection // conversationID -> connID -> Connection
	joined      map[string]map[string]struct{}              // connID -> conversationIDs
	identities  map[string]int                              // identity key -> live connections
	users       map[string]int                              // userID -> live connections
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		groups:      make(map[string]map[string]interfaces.Connection),
		joined:      make(map[string]map[string]struct{}),
		identities:  make(map[string]int),
		users:       make(map[string]int),
	}
}

// Register adds an admitted connection
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.Identity().IsZero() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.connections[id]; !ok {
		identity := conn.Identity()
		r.identities[identity.Key()]++
		r.users[identity.UserID]++
	}
	r.connections[id] = conn
	if r.joined[id] == nil {
		r.joined[id] = make(map[string]struct{})
	}
	return nil
}

// Join adds a registered connection to a conversation group
func (r *Registry) Join(conn interfaces.Connection, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.connections[id]; !ok {
		return ErrConnectionNotRegistered
	}

	group := r.groups[conversationID]
	if group == nil {
		group = make(map[string]interfaces.Connection)
		r.groups[conversationID] = group
	}
	group[id] = conn
	r.joined[id][conversationID] = struct{}{}
	return nil
}

// Unregister removes the connection from every group. It reports whether
// the connection was registered, so callers can run cleanup exactly once.
// When it was the identity's last connection, onLast runs before the
// registry lock is released; no sibling can register in between.
func (r *Registry) Unregister(conn interfaces.Connection, onLast func(types.Identity)) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.connections[id]; !ok {
		return false
	}

	for conversationID := range r.joined[id] {
		if group, ok := r.groups[conversationID]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(r.groups, conversationID)
			}
		}
	}
	delete(r.joined, id)
	delete(r.connections, id)

	identity := conn.Identity()
	if r.users[identity.UserID]--; r.users[identity.UserID] <= 0 {
		delete(r.users, identity.UserID)
	}
	key := identity.Key()
	if r.identities[key]--; r.identities[key] <= 0 {
		delete(r.identities, key)
		if onLast != nil {
			onLast(identity)
		}
	}
	return true
}

// GroupMembers returns a snapshot of the group's connections
func (r *Registry) GroupMembers(conversationID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[conversationID]
	members := make([]interfaces.Connection, 0, len(group))
	for _, conn := range group {
		members = append(members, conn)
	}
	return members
}

// IsMember reports whether the connection joined the conversation group
func (r *Registry) IsMember(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.joined[connID][conversationID]
	return ok
}

// Get returns a registered connection by id
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	return conn, ok
}

// HasIdentity reports whether any registered connection carries identity
func (r *Registry) HasIdentity(identity types.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.identities[identity.Key()] > 0
}

// All returns a snapshot of every registered connection
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		all = append(all, conn)
	}
	return all
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_groups":     len(r.groups),
		"online_users":      len(r.users),
	}
}
