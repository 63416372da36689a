package interfaces

import "chathub/pkg/types"

// Connection is a live client connection as seen by the hub components.
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// keeps the sequencer, typing and read-state packages free of websocket imports
type Connection interface {
	// ID returns the opaque per-connection handle
	ID() string

	// Identity returns the resolved (userId, sessionId); zero until admitted
	Identity() types.Identity

	// WriteJSON queues a frame for the client without blocking (thread-safe)
	WriteJSON(v any) error

	// Close closes the connection and cleans up resources
	Close() error
}

// Broadcaster fans an event out to every connection joined to a conversation group.
// An empty exceptConnID means no exclusion.
type Broadcaster interface {
	Broadcast(conversationID, event string, payload any, exceptConnID string)
}
