package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrBufferFull        = errors.New("send buffer full")
	ErrInvalidJSON       = errors.New("invalid JSON data")
	ErrIdentityImmutable = errors.New("connection identity already set")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrConnectionNotRegistered    = errors.New("connection is not registered")
)
