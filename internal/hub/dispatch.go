package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chathub/pkg/interfaces"
	"chathub/pkg/types"
)

// validator is implemented by every inbound payload
type validator interface {
	Validate() error
}

// Dispatch handles one inbound frame from conn. Failures are reported to
// conn alone; a panicking handler is recovered and reported the same way.
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) {
	var env types.Envelope
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panic",
				zap.String("conn", conn.ID()),
				zap.String("event", env.Event),
				zap.Any("panic", r),
				zap.Stack("stack"))
			h.replyError(conn, env.Event, types.ErrStoreUnavailable)
		}
	}()

	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		h.replyError(conn, env.Event, fmt.Errorf("%w: malformed envelope", types.ErrInvalidPayload))
		return
	}

	var err error
	switch env.Event {
	case types.EventMessageSend:
		err = h.handleSend(ctx, conn, env.Data)
	case types.EventConversationRead:
		err = h.handleRead(ctx, conn, env.Data)
	case types.EventTypingStart, types.EventTypingStop:
		err = h.handleTyping(conn, env.Event, env.Data)
	default:
		err = types.ErrUnknownEvent
	}
	if err == nil {
		return
	}

	var limited *types.RateLimitError
	if errors.As(err, &limited) {
		h.metrics.MessagesRateLimited.Add(1)
		h.deliver(conn, types.OutboundEvent{
			Event: types.EventRateLimitError,
			Data:  types.RateLimitNotice{Type: "message", RetryAfterMs: limited.RetryAfterMs()},
		})
		return
	}
	h.replyError(conn, env.Event, err)
}

func (h *Hub) handleSend(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var payload types.SendMessagePayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if err := h.requireMember(conn, payload.ConversationID); err != nil {
		return err
	}

	identity := conn.Identity()
	if decision := h.limiter.TryConsume(identity, h.now()); !decision.Allowed {
		return decision.Err()
	}

	if _, err := h.sequencer.Send(ctx, payload.ConversationID, identity.UserID, payload.Content); err != nil {
		return err
	}
	h.metrics.MessagesSent.Add(1)
	return nil
}

func (h *Hub) handleRead(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var payload types.ReadPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if err := h.requireMember(conn, payload.ConversationID); err != nil {
		return err
	}

	updated, err := h.reads.MarkRead(ctx, payload.ConversationID, conn.Identity().UserID, payload.LastReadSequence, conn.ID())
	if err != nil {
		return err
	}
	if updated {
		h.metrics.ReadUpdates.Add(1)
	}
	return nil
}

func (h *Hub) handleTyping(conn interfaces.Connection, event string, data json.RawMessage) error {
	var payload types.TypingPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if err := h.requireMember(conn, payload.ConversationID); err != nil {
		return err
	}

	userID := conn.Identity().UserID
	if event == types.EventTypingStart {
		h.typing.Start(payload.ConversationID, userID, conn.ID())
	} else {
		h.typing.Stop(payload.ConversationID, userID, conn.ID())
	}
	h.metrics.TypingEvents.Add(1)
	return nil
}

// requireMember hides conversations the connection never joined behind the
// same error as conversations that do not exist.
func (h *Hub) requireMember(conn interfaces.Connection, conversationID string) error {
	if !h.registry.IsMember(conn.ID(), conversationID) {
		return types.ErrConversationNotFound
	}
	return nil
}

func decode(data json.RawMessage, v validator) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", types.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return v.Validate()
}

func (h *Hub) replyError(conn interfaces.Connection, event string, err error) {
	h.metrics.EventErrors.Add(1)

	code := types.ErrorCode(err)
	message := err.Error()
	if code == "store_unavailable" {
		h.logger.Error("event failed",
			zap.String("conn", conn.ID()),
			zap.String("event", event),
			zap.Error(err))
		message = "temporarily unavailable, retry later"
	}

	h.deliver(conn, types.OutboundEvent{
		Event: types.EventError,
		Data:  types.ErrorNotice{Event: event, Code: code, Message: message},
	})
}

// Broadcast sends one frame to every connection in the conversation group
// except exceptConnID. The payload is marshaled once.
func (h *Hub) Broadcast(conversationID, event string, payload any, exceptConnID string) {
	data, err := json.Marshal(types.OutboundEvent{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	frame := json.RawMessage(data)

	for _, conn := range h.registry.GroupMembers(conversationID) {
		if conn.ID() == exceptConnID {
			continue
		}
		h.deliver(conn, frame)
	}
}

// deliver enqueues without blocking. A client that cannot keep up is closed;
// its read pump then runs the disconnect cleanup.
func (h *Hub) deliver(conn interfaces.Connection, v any) {
	err := conn.WriteJSON(v)
	if err == nil || isClosed(err) {
		return
	}

	h.metrics.SlowConsumers.Add(1)
	h.logger.Warn("dropping connection that cannot keep up",
		zap.String("conn", conn.ID()),
		zap.String("user", conn.Identity().UserID),
		zap.Error(err))
	go func() { _ = conn.Close() }()
}
