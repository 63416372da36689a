// Package readstate keeps per-user read watermarks monotonic and tells the
// rest of the group when one advances.
package readstate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// Tracker applies conversation:read proposals
type Tracker struct {
	store       interfaces.ReadStateStore
	broadcaster interfaces.Broadcaster
	now         func() time.Time
	logger      *zap.Logger
}

// NewTracker creates a tracker. A nil logger is replaced with a no-op logger.
func NewTracker(store interfaces.ReadStateStore, broadcaster interfaces.Broadcaster, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      logger,
	}
}

// MarkRead proposes a new watermark for (conversationID, userID). The store
// only accepts values strictly above the current one, so a stale or replayed
// proposal is a silent no-op. When the watermark advances the update is sent to
// every other connection in the group.
func (t *Tracker) MarkRead(ctx context.Context, conversationID, userID string, proposed int64, originConnID string) (bool, error) {
	if proposed < 0 {
		return false, types.ErrNegativeSequence
	}

	updated, err := t.store.UpsertReadState(ctx, conversationID, userID, proposed, t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("upsert read state: %w", types.ErrStoreUnavailable)
	}
	if !updated {
		t.logger.Debug("stale read proposal ignored",
			zap.String("conversation", conversationID),
			zap.String("user", userID),
			zap.Int64("proposed", proposed))
		return false, nil
	}

	t.broadcaster.Broadcast(conversationID, types.EventConversationReadSync, types.ReadUpdate{
		ConversationID:   conversationID,
		UserID:           userID,
		LastReadSequence: proposed,
	}, originConnID)
	return true, nil
}
