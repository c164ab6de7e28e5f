package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
)

type MessageService struct {
	core
}

func NewMessageService(d Deps) *MessageService {
	return &MessageService{core: newCore(d)}
}

// SendMessage stores the message, moves the chat's last-message pointer and
// notifies every other participant's sockets in the chat room.
func (s *MessageService) SendMessage(ctx context.Context, chatID uuid.UUID, senderID int, content string, attachments []Attachment) (*Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, apperr.InvalidArgument("message content or attachment is required")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	if !c.HasParticipant(senderID) {
		return nil, apperr.PermissionDenied("you are not a part of this chat")
	}

	m := &Message{
		ID:          uuid.New(),
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if err := s.store.CreateMessage(sctx, m); err != nil {
		return nil, apperr.FromContext("create message", err)
	}
	if err := s.store.RefreshLastMessage(sctx, chatID); err != nil {
		return nil, apperr.FromContext("refresh last message", err)
	}

	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventMessageReceived, m, senderID)
	return m, nil
}

// DeleteMessage removes a message sent by requesterID and moves the chat's
// last-message pointer to the newest remaining message, or to none.
func (s *MessageService) DeleteMessage(ctx context.Context, chatID, messageID uuid.UUID, requesterID int) (*Message, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.store.GetChat(sctx, chatID); err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	m, err := s.store.GetMessage(sctx, messageID)
	if err != nil {
		return nil, apperr.FromContext("get message", err)
	}
	if m.ChatID != chatID {
		return nil, apperr.NotFound("message does not exist")
	}
	if m.SenderID != requesterID {
		return nil, apperr.PermissionDenied("you are not the sender of this message")
	}

	if err := s.store.DeleteMessage(sctx, messageID); err != nil {
		return nil, apperr.FromContext("delete message", err)
	}
	s.removeAttachments(m)
	if err := s.store.RefreshLastMessage(sctx, chatID); err != nil {
		return nil, apperr.FromContext("refresh last message", err)
	}

	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventMessageDeleted, m, requesterID)
	return m, nil
}

// ListMessages returns the newest messages of a chat the requester belongs to.
func (s *MessageService) ListMessages(ctx context.Context, chatID uuid.UUID, requesterID, limit int) ([]*Message, error) {
	switch {
	case limit == 0:
		limit = DefaultMessageLimit
	case limit < 0 || limit > MaxMessageLimit:
		return nil, apperr.InvalidArgument("limit must be between 1 and 100")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	if !c.HasParticipant(requesterID) {
		return nil, apperr.PermissionDenied("you are not a part of this chat")
	}

	messages, err := s.store.ListMessages(sctx, chatID, limit)
	if err != nil {
		return nil, apperr.FromContext("list messages", err)
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}
