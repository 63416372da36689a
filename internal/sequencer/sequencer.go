// Package sequencer assigns per-conversation sequence numbers, persists the
// message and fans it out to the conversation group.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// persistTimeout bounds a send once it reaches the store. The caller's
// context is detached at that point so a closing connection cannot abort an
// append halfway.
const persistTimeout = 5 * time.Second

// Store is the subset of the durable store the sequencer needs
type Store interface {
	AppendMessage(ctx context.Context, message *types.Message) error
}

// Sequencer turns accepted sends into ordered, persisted messages.
// It adds no lock of its own: the store reserves the sequence and inserts the
// message in one transaction, backed by the (conversation, sequence) constraint.
type Sequencer struct {
	store       Store
	broadcaster interfaces.Broadcaster
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a sequencer
func New(store Store, broadcaster interfaces.Broadcaster, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      logger,
	}
}

// Send validates content, persists the message under the next sequence and
// broadcasts message:new to the whole group, sender included.
//
// The sequence is assigned inside the store append, so a failed send leaves
// the counter untouched and sequences stay dense.
func (s *Sequencer) Send(ctx context.Context, conversationID, senderID, content string) (*types.Message, error) {
	if err := types.ValidateContent(content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	message := &types.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.AppendMessage(persistCtx, message); err != nil {
		if errors.Is(err, types.ErrConversationNotFound) {
			return nil, err
		}
		s.logger.Error("message append failed",
			zap.String("conversation", conversationID),
			zap.Error(err))
		return nil, wrapStore("append message", err)
	}

	s.broadcaster.Broadcast(conversationID, types.EventMessageNew, message, "")
	return message, nil
}

func wrapStore(op string, err error) error {
	if errors.Is(err, types.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, types.ErrStoreUnavailable, err)
}
