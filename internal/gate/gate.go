// Package gate applies per-identity admission control before any connection
// state is created.
package gate

import (
	"time"

	"chathub/internal/keyed"
	"chathub/pkg/types"
)

// Defaults for connection attempts per session identity
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxAttempts = 5
)

// Gate keeps a sliding log of connection attempts per session identity hint.
type Gate struct {
	window      time.Duration
	maxAttempts int
	logs        *keyed.Map[[]time.Time]
}

// New creates a gate. Non-positive values fall back to the defaults.
func New(window time.Duration, maxAttempts int) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Gate{
		window:      window,
		maxAttempts: maxAttempts,
		logs:        keyed.NewMap[[]time.Time](0),
	}
}

// Admit records an attempt for candidateSessionID at now, or returns
// types.ErrTooManyAttempts when the trailing window already holds more than
// maxAttempts. An empty hint is always admitted; such connections are rejected
// later by the identity verifier if they carry no credential.
func (g *Gate) Admit(candidateSessionID string, now time.Time) error {
	if candidateSessionID == "" {
		return nil
	}

	var err error
	g.logs.Do(candidateSessionID, func(items map[string][]time.Time) {
		attempts := prune(items[candidateSessionID], now.Add(-g.window))

		if len(attempts) > g.maxAttempts {
			items[candidateSessionID] = attempts
			err = types.ErrTooManyAttempts
			return
		}

		items[candidateSessionID] = append(attempts, now)
	})

	return err
}

// Sweep drops logs with no attempt inside the window
func (g *Gate) Sweep(now time.Time) int {
	cutoff := now.Add(-g.window)
	return g.logs.Sweep(func(_ string, attempts []time.Time) bool {
		return len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff)
	})
}

// Len returns the number of tracked identities
func (g *Gate) Len() int {
	return g.logs.Len()
}

// prune keeps attempts strictly after cutoff. Attempts are appended in arrival
// order, so the kept ones form a suffix; the slice is copied so the backing
// array does not grow without bound.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	kept := make([]time.Time, len(attempts)-i, len(attempts)-i+1)
	copy(kept, attempts[i:])
	return kept
}
