// Package typing tracks debounced, auto-expiring typing indicators per
// (conversationId, userId).
package typing

import (
	"time"

	"go.uber.org/zap"

	"chathub/internal/keyed"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// Defaults for the typing lifecycle
const (
	DefaultCooldown = time.Second
	DefaultTTL      = 3000 * time.Millisecond
)

// Coordinator owns every typing entry and its expiry timer.
// Explicit start/stop, disconnect cleanup and timer callbacks all take the same
// per-key lock, and timers carry the generation they were armed for, so a timer
// that lost a race with a refresh or stop finds a newer generation and does nothing.
type Coordinator struct {
	entries     *keyed.Map[*entry]
	broadcaster interfaces.Broadcaster
	cooldown    time.Duration
	ttl         time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

type entry struct {
	conversationID string
	userID         string
	originConnID   string
	lastStart      time.Time
	generation     uint64
	timer          *time.Timer
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces time.Now for cooldown checks
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a coordinator. Non-positive durations fall back to the defaults.
func NewCoordinator(broadcaster interfaces.Broadcaster, cooldown, ttl time.Duration, opts ...Option) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Coordinator{
		entries:     keyed.NewMap[*entry](0),
		broadcaster: broadcaster,
		cooldown:    cooldown,
		ttl:         ttl,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func entryKey(conversationID, userID string) string {
	return conversationID + "\x00" + userID
}

// Start handles typing:start. Only the idle -> typing transition broadcasts.
// A repeated start inside the cooldown is absorbed before any timer work.
func (c *Coordinator) Start(conversationID, userID, connID string) {
	key := entryKey(conversationID, userID)
	now := c.now()

	c.entries.Do(key, func(items map[string]*entry) {
		e, typing := items[key]
		if typing {
			if now.Sub(e.lastStart) < c.cooldown {
				return
			}
			e.lastStart = now
			e.originConnID = connID
			c.arm(key, e)
			return
		}

		e = &entry{
			conversationID: conversationID,
			userID:         userID,
			originConnID:   connID,
			lastStart:      now,
		}
		items[key] = e
		c.arm(key, e)
		c.emit(e, true, connID)
	})
}

// Stop handles typing:stop. No-op when the key is idle.
func (c *Coordinator) Stop(conversationID, userID, connID string) {
	key := entryKey(conversationID, userID)

	c.entries.Do(key, func(items map[string]*entry) {
		e, typing := items[key]
		if !typing {
			return
		}
		delete(items, key)
		e.disarm()
		c.emit(e, false, connID)
	})
}

// ClearUser forces every entry owned by userID to idle, emitting one stopped
// broadcast per conversation. Entries started from other connections of the
// same user are cleared too, since keys are not scoped by connection.
func (c *Coordinator) ClearUser(userID, connID string) int {
	return c.entries.Sweep(func(_ string, e *entry) bool {
		if e.userID != userID {
			return false
		}
		e.disarm()
		c.emit(e, false, connID)
		return true
	})
}

// IsTyping reports whether the key is currently in the typing state
func (c *Coordinator) IsTyping(conversationID, userID string) bool {
	key := entryKey(conversationID, userID)
	var typing bool
	c.entries.Do(key, func(items map[string]*entry) {
		_, typing = items[key]
	})
	return typing
}

// Len returns the number of active entries
func (c *Coordinator) Len() int {
	return c.entries.Len()
}

// arm (re)schedules the expiry timer. Caller holds the key's lock.
func (c *Coordinator) arm(key string, e *entry) {
	e.disarm()
	e.generation++
	generation := e.generation
	e.timer = time.AfterFunc(c.ttl, func() {
		c.expire(key, generation)
	})
}

func (c *Coordinator) expire(key string, generation uint64) {
	c.entries.Do(key, func(items map[string]*entry) {
		e, typing := items[key]
		if !typing || e.generation != generation {
			return
		}
		delete(items, key)
		e.timer = nil
		c.logger.Debug("typing expired",
			zap.String("conversation", e.conversationID),
			zap.String("user", e.userID))
		c.emit(e, false, e.originConnID)
	})
}

// disarm stops the pending timer; a callback already waiting on the lock is
// neutralised by the generation check in expire.
func (e *entry) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.generation++
}

func (c *Coordinator) emit(e *entry, isTyping bool, exceptConnID string) {
	c.broadcaster.Broadcast(e.conversationID, types.EventTypingUpdate, types.TypingUpdate{
		ConversationID: e.conversationID,
		UserID:         e.userID,
		IsTyping:       isTyping,
	}, exceptConnID)
}
