package types

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTooManyAttempts      = errors.New("too many connection attempts")
	ErrRateLimited          = errors.New("rate limited")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrUnknownEvent         = errors.New("unknown event")
)

// Validation errors
var (
	ErrEmptyContent     = fmt.Errorf("%w: content cannot be empty", ErrInvalidPayload)
	ErrContentTooLarge  = fmt.Errorf("%w: content exceeds 64KB limit", ErrInvalidPayload)
	ErrInvalidID        = fmt.Errorf("%w: identifier must be 1-64 characters, alphanumeric + underscore/hyphen only", ErrInvalidPayload)
	ErrNegativeSequence = fmt.Errorf("%w: sequence cannot be negative", ErrInvalidPayload)

	ErrInvalidConversationType = fmt.Errorf("%w: conversation type must be dm or group", ErrInvalidPayload)
	ErrInvalidParticipants     = fmt.Errorf("%w: participants must be distinct, dm requires exactly two", ErrInvalidPayload)
)

// RateLimitError carries the time until the caller's window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterMs rounds the retry delay up to whole milliseconds.
func (e *RateLimitError) RetryAfterMs() int64 {
	ms := e.RetryAfter.Milliseconds()
	if e.RetryAfter > time.Duration(ms)*time.Millisecond {
		ms++
	}
	return ms
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrConversationNotFound):
		return "conversation_not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "store_unavailable"
	}
}
