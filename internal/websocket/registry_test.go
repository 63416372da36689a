package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/pkg/types"
)

// stubConn is a transport-free connection for registry tests
type stubConn struct {
	id       string
	identity types.Identity
}

func (s *stubConn) ID() string               { return s.id }
func (s *stubConn) Identity() types.Identity { return s.identity }
func (s *stubConn) WriteJSON(any) error      { return nil }
func (s *stubConn) Close() error             { return nil }

func newStub(id, user string) *stubConn {
	return &stubConn{id: id, identity: types.Identity{UserID: user, SessionID: "s-" + user}}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	assert.ErrorIs(t, registry.Register(nil), ErrNilConnection)
	assert.ErrorIs(t, registry.Register(&stubConn{id: "anon"}), ErrConnectionNotAuthenticated)

	assert.ErrorIs(t, registry.Join(newStub("c1", "alice"), "conv"), ErrConnectionNotRegistered)
	assert.Equal(t, 0, registry.Stats()["total_connections"])
}

func TestRegistry_GroupsAndMembership(t *testing.T) {
	registry := NewRegistry()
	a := newStub("conn-a", "alice")
	b := newStub("conn-b", "bob")
	b2 := newStub("conn-b2", "bob")

	for _, c := range []*stubConn{a, b, b2} {
		require.NoError(t, registry.Register(c))
		require.NoError(t, registry.Join(c, "c1"))
	}
	require.NoError(t, registry.Join(a, "c2"))

	assert.Len(t, registry.GroupMembers("c1"), 3)
	assert.Len(t, registry.GroupMembers("c2"), 1)
	assert.Empty(t, registry.GroupMembers("unknown"))

	assert.True(t, registry.IsMember("conn-a", "c2"))
	assert.False(t, registry.IsMember("conn-b", "c2"))
	assert.False(t, registry.IsMember("nobody", "c1"))

	got, ok := registry.Get("conn-b2")
	require.True(t, ok)
	assert.Same(t, b2, got)

	assert.Equal(t, map[string]int{
		"total_connections": 3,
		"active_groups":     2,
		"online_users":      2,
	}, registry.Stats())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	a := newStub("conn-a", "alice")
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Join(a, "c1"))
	require.NoError(t, registry.Join(a, "c2"))

	assert.True(t, registry.HasIdentity(a.identity))
	assert.True(t, registry.Unregister(a, nil))
	assert.False(t, registry.Unregister(a, nil), "second unregister is a no-op")
	assert.False(t, registry.Unregister(nil, nil))

	assert.False(t, registry.IsMember("conn-a", "c1"))
	assert.False(t, registry.HasIdentity(a.identity))
	assert.Empty(t, registry.All())
	assert.Equal(t, 0, registry.Stats()["active_groups"], "empty groups are removed")
}

func TestRegistry_LastConnectionPerIdentity(t *testing.T) {
	registry := NewRegistry()
	first := newStub("conn-1", "alice")
	second := newStub("conn-2", "alice")
	other := &stubConn{id: "conn-3", identity: types.Identity{UserID: "alice", SessionID: "s-other"}}

	for _, c := range []*stubConn{first, second, other} {
		require.NoError(t, registry.Register(c))
	}
	require.NoError(t, registry.Register(first), "re-registering does not double count")
	assert.Equal(t, 1, registry.Stats()["online_users"])

	var released []types.Identity
	onLast := func(id types.Identity) { released = append(released, id) }

	assert.True(t, registry.Unregister(first, onLast))
	assert.Empty(t, released, "a sibling with the same identity is still live")
	assert.True(t, registry.HasIdentity(first.identity))

	assert.True(t, registry.Unregister(second, onLast))
	assert.Equal(t, []types.Identity{first.identity}, released)
	assert.False(t, registry.HasIdentity(first.identity))
	assert.True(t, registry.HasIdentity(other.identity))
	assert.Equal(t, 1, registry.Stats()["online_users"])

	assert.False(t, registry.Unregister(second, onLast))
	assert.Len(t, released, 1, "no second release for a stale connection")

	assert.True(t, registry.Unregister(other, onLast))
	assert.Len(t, released, 2)
	assert.Equal(t, 0, registry.Stats()["online_users"])
}

func TestRegistry_ReleaseRacesWithSiblingRegister(t *testing.T) {
	registry := NewRegistry()
	identity := types.Identity{UserID: "alice", SessionID: "s-alice"}

	const rounds = 200
	for i := 0; i < rounds; i++ {
		leaving := &stubConn{id: fmt.Sprintf("old-%d", i), identity: identity}
		arriving := &stubConn{id: fmt.Sprintf("new-%d", i), identity: identity}
		require.NoError(t, registry.Register(leaving))

		var releasedWithSibling bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Unregister(leaving, func(types.Identity) {
				_, releasedWithSibling = registry.connections[arriving.id]
			})
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, registry.Register(arriving))
		}()
		wg.Wait()

		assert.False(t, releasedWithSibling, "release never observes a live sibling")
		assert.True(t, registry.HasIdentity(identity))
		registry.Unregister(arriving, nil)
	}
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	registry := NewRegistry()
	a := newStub("conn-a", "alice")
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Join(a, "c1"))

	members := registry.GroupMembers("c1")
	registry.Unregister(a, nil)

	assert.Len(t, members, 1, "a snapshot survives later leaves")
}

func TestRegistry_ConcurrentOperations(t *testing.T) {
	registry := NewRegistry()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newStub(fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i%10))
			assert.NoError(t, registry.Register(c))
			assert.NoError(t, registry.Join(c, "c1"))
			_ = registry.GroupMembers("c1")
			_ = registry.Stats()
			if i%2 == 0 {
				registry.Unregister(c, nil)
			}
		}(i)
	}
	wg.Wait()

	stats := registry.Stats()
	assert.Equal(t, workers/2, stats["total_connections"])
	assert.Len(t, registry.GroupMembers("c1"), workers/2)
}
