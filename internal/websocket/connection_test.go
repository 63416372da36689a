package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// createTestWebSocketConnection dials a server that forwards every frame it
// receives to the returned channel.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 256)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, received
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	ws, _ := createTestWebSocketConnection(t)

	conn := NewConnection(ws, 0, 0)
	defer conn.Close()

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, DefaultBufferSize, cap(conn.writeCh))
	assert.Equal(t, DefaultWriteTimeout, conn.writeTimeout)
	assert.True(t, conn.Identity().IsZero())

	other := NewConnection(ws, 8, time.Second)
	defer other.Close()
	assert.NotEqual(t, conn.ID(), other.ID())
	assert.Equal(t, 8, cap(other.writeCh))
}

func TestConnection_IdentityIsSetOnce(t *testing.T) {
	ws, _ := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 0, 0)
	defer conn.Close()

	identity := types.Identity{UserID: "alice", SessionID: "s1"}
	require.NoError(t, conn.SetIdentity(identity))
	assert.Equal(t, identity, conn.Identity())

	err := conn.SetIdentity(types.Identity{UserID: "mallory", SessionID: "s2"})
	assert.ErrorIs(t, err, ErrIdentityImmutable)
	assert.Equal(t, identity, conn.Identity())
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	ws, received := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 0, 0)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(types.OutboundEvent{Event: "ping", Data: map[string]int{"n": 1}}))

	select {
	case data := <-received:
		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "ping", env.Event)
		assert.JSONEq(t, `{"n":1}`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	ws, _ := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 0, 0)
	defer conn.Close()

	err := conn.WriteJSON(map[string]any{"func": func() {}})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestConnection_WriteJSONNeverBlocks(t *testing.T) {
	// No writer goroutine drains this buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{writeCh: make(chan []byte, 2), ctx: ctx, cancel: cancel}

	require.NoError(t, conn.WriteJSON("a"))
	require.NoError(t, conn.WriteJSON("b"))

	done := make(chan error, 1)
	go func() { done <- conn.WriteJSON("c") }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBufferFull)
	case <-time.After(time.Second):
		t.Fatal("WriteJSON blocked on a full buffer")
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	ws, _ := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 0, 0)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case <-conn.Context().Done():
	default:
		t.Fatal("context not cancelled on close")
	}

	assert.ErrorIs(t, conn.WriteJSON(map[string]string{"type": "test"}), ErrConnectionClosed)
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	ws, received := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 200, 0)
	defer conn.Close()

	const goroutines = 10
	const perGoroutine = 10

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				assert.NoError(t, conn.WriteJSON(map[string]int{"worker": id, "message": j}))
			}
		}(i)
	}
	wg.Wait()

	for n := 0; n < goroutines*perGoroutine; n++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d frames delivered", n, goroutines*perGoroutine)
		}
	}
}
