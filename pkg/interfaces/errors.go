package interfaces

import "errors"

// Common store errors used across components
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSequenceConflict = errors.New("duplicate (conversation, sequence) pair")
)
