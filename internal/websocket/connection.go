package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// Default connection settings
const (
	DefaultBufferSize   = 100
	DefaultWriteTimeout = 5 * time.Second
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so a single
// writer goroutine drains a bounded channel. Producers never block on it:
// broadcasts run under per-key locks elsewhere and must not stall on a slow client.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	identity     types.Identity
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

// NewConnection wraps conn and starts its writer
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the per-connection handle
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the admitted identity, zero before admission
func (c *Connection) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SetIdentity binds the admitted identity. It can be set once.
func (c *Connection) SetIdentity(identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.identity.IsZero() {
		return ErrIdentityImmutable
	}
	c.identity = identity
	return nil
}

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context {
	return c.ctx
}

// WriteJSON queues a frame. It never blocks: a full buffer is reported as
// ErrBufferFull and the caller decides whether to drop the client.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close cancels the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
