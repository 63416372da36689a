package database

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dbconfig "chathub/pkg/database"
	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteRetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func seedConversation(t *testing.T, m *Manager, id string, participants ...string) {
	t.Helper()
	convType := types.ConversationTypeGroup
	if len(participants) == 2 {
		convType = types.ConversationTypeDM
	}
	err := m.CreateConversation(context.Background(), &types.Conversation{
		ID:             id,
		Type:           convType,
		ParticipantIDs: participants,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
}

func TestManager_FindLiveSession(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	sessions := []*types.Session{
		{ID: "live", UserID: "alice", CredentialHash: "h", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "expired", UserID: "alice", CredentialHash: "h", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{ID: "revoked", UserID: "alice", CredentialHash: "h", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	for _, s := range sessions {
		require.NoError(t, m.CreateSession(ctx, s))
	}
	require.NoError(t, m.RevokeSession(ctx, "revoked", now))

	session, err := m.FindLiveSession(ctx, "live", now)
	require.NoError(t, err)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, now.UnixMilli(), session.ExpiresAt.Add(-time.Hour).UnixMilli())
	assert.Nil(t, session.RevokedAt)

	for _, id := range []string{"expired", "revoked", "missing"} {
		_, err := m.FindLiveSession(ctx, id, now)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound, id)
	}

	assert.ErrorIs(t, m.RevokeSession(ctx, "revoked", now), interfaces.ErrSessionNotFound, "already revoked")
}

func TestManager_Membership(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	seedConversation(t, m, "c1", "alice", "bob")
	seedConversation(t, m, "c2", "alice", "bob", "carol")
	seedConversation(t, m, "c3", "carol")

	ids, err := m.ConversationIDsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	ids, err = m.ConversationIDsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ok, err := m.IsParticipant(ctx, "c3", "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsParticipant(ctx, "c3", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_CreateConversationRejectsInvalid(t *testing.T) {
	m := setupTestDB(t)

	err := m.CreateConversation(context.Background(), &types.Conversation{
		ID: "c1", Type: types.ConversationTypeDM, ParticipantIDs: []string{"alice"},
	})
	assert.ErrorIs(t, err, types.ErrInvalidParticipants)

	seedConversation(t, m, "c1", "alice", "bob")
	err = m.CreateConversation(context.Background(), &types.Conversation{
		ID: "c1", Type: types.ConversationTypeGroup, ParticipantIDs: []string{"carol"},
	})
	assert.ErrorIs(t, err, types.ErrStoreUnavailable, "duplicate id fails inside the transaction")

	ok, err := m.IsParticipant(context.Background(), "c1", "carol")
	require.NoError(t, err)
	assert.False(t, ok, "failed creation must not leave participants behind")
}

func TestManager_IncrementSequence(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, m, "c1", "alice", "bob")

	for want := int64(1); want <= 3; want++ {
		got, err := m.IncrementSequence(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := m.IncrementSequence(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrConversationNotFound)

	var count int
	require.NoError(t, m.DB().QueryRow("SELECT COUNT(*) FROM conversations").Scan(&count))
	assert.Equal(t, 1, count, "missing conversation is not created")
}

func TestManager_IncrementSequenceConcurrent(t *testing.T) {
	m := setupTestDB(t)
	seedConversation(t, m, "c1", "alice", "bob")

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := m.IncrementSequence(context.Background(), "c1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seqs = append(seqs, seq)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}

	var last int64
	require.NoError(t, m.DB().QueryRow("SELECT last_sequence FROM conversations WHERE id = 'c1'").Scan(&last))
	assert.Equal(t, int64(n), last)
}

func TestManager_InsertMessageAndSync(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, m, "c1", "alice", "bob")

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for seq := int64(1); seq <= 5; seq++ {
		err := m.InsertMessage(ctx, &types.Message{
			ID:             "m" + string(rune('0'+seq)),
			ConversationID: "c1",
			SenderID:       "alice",
			Sequence:       seq,
			Content:        "hello",
			CreatedAt:      created,
		})
		require.NoError(t, err)
	}

	err := m.InsertMessage(ctx, &types.Message{
		ID: "dup", ConversationID: "c1", SenderID: "bob", Sequence: 3, Content: "x", CreatedAt: created,
	})
	assert.ErrorIs(t, err, interfaces.ErrSequenceConflict)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	_, err = m.DB().Exec("UPDATE messages SET deleted_at = 1 WHERE sequence = 4")
	require.NoError(t, err)

	messages, err := m.MessagesAfter(ctx, "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(3), messages[0].Sequence)
	assert.Equal(t, int64(5), messages[1].Sequence)
	assert.True(t, created.Equal(messages[0].CreatedAt))

	messages, err = m.MessagesAfter(ctx, "c1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, messages, 2, "limit applies")

	messages, err = m.MessagesAfter(ctx, "c1", 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestManager_AppendMessageKeepsCounterDense(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, m, "c1", "alice", "bob")

	counts := func() (last, stored int64) {
		require.NoError(t, m.DB().QueryRow("SELECT last_sequence FROM conversations WHERE id = 'c1'").Scan(&last))
		require.NoError(t, m.DB().QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = 'c1'").Scan(&stored))
		return last, stored
	}

	first := &types.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "one", CreatedAt: time.Now()}
	require.NoError(t, m.AppendMessage(ctx, first))
	assert.Equal(t, int64(1), first.Sequence)

	// Reusing the message ID fails the insert after the counter was bumped.
	clash := &types.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "two", CreatedAt: time.Now()}
	assert.Error(t, m.AppendMessage(ctx, clash))
	assert.Equal(t, int64(0), clash.Sequence)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, m.AppendMessage(cancelled, &types.Message{
		ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "two", CreatedAt: time.Now(),
	}))

	last, stored := counts()
	assert.Equal(t, int64(1), last)
	assert.Equal(t, int64(1), stored)

	next := &types.Message{ID: "m3", ConversationID: "c1", SenderID: "bob", Content: "three", CreatedAt: time.Now()}
	require.NoError(t, m.AppendMessage(ctx, next))
	assert.Equal(t, int64(2), next.Sequence)

	err := m.AppendMessage(ctx, &types.Message{ID: "m4", ConversationID: "missing", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, types.ErrConversationNotFound)
}

func TestManager_UpsertReadStateNeverRegresses(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, m, "c1", "alice", "bob")
	now := time.Now()

	steps := []struct {
		proposed int64
		want     bool
	}{
		{0, true},
		{10, true},
		{7, false},
		{10, false},
		{11, true},
	}
	for _, step := range steps {
		updated, err := m.UpsertReadState(ctx, "c1", "bob", step.proposed, now)
		require.NoError(t, err)
		assert.Equal(t, step.want, updated, "proposal %d", step.proposed)
	}

	var stored int64
	require.NoError(t, m.DB().QueryRow(
		"SELECT last_read_sequence FROM read_states WHERE conversation_id = 'c1' AND user_id = 'bob'").Scan(&stored))
	assert.Equal(t, int64(11), stored)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, m.HealthCheck(ctx))
	assert.Equal(t, dbconfig.DialectSQLite, m.Dialect())

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "close is idempotent")

	_, err := m.IncrementSequence(ctx, "c1")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""
	_, err := NewManager(config, nil)
	assert.Error(t, err)
}
