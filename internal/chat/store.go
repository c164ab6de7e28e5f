package chat

import (
	"context"

	"github.com/google/uuid"
)

// Store persists chats and messages. Lookups of missing rows return an
// apperr NotFound error. The store never cascades; callers delete a chat's
// messages before the chat itself.
type Store interface {
	// CreateChat returns a Conflict error when a direct chat between the
	// same two users already exists.
	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, id uuid.UUID) (*Chat, error)
	FindDirectChat(ctx context.Context, a, b int) (*Chat, error)
	// ListChatsForUser returns the user's chats, most recently updated first.
	ListChatsForUser(ctx context.Context, userID int) ([]*Chat, error)
	RenameChat(ctx context.Context, id uuid.UUID, name string) error
	SetAdmin(ctx context.Context, id uuid.UUID, adminID *int) error
	AddParticipant(ctx context.Context, id uuid.UUID, userID int) error
	RemoveParticipant(ctx context.Context, id uuid.UUID, userID int) error
	// RefreshLastMessage points the chat at its newest stored message, or at
	// none, in one step. Concurrent sends and deletes leave the pointer on
	// whatever is newest once the last of them refreshes.
	RefreshLastMessage(ctx context.Context, id uuid.UUID) error
	DeleteChat(ctx context.Context, id uuid.UUID) error

	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListMessages returns up to limit messages of a chat, newest first.
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	// DeleteMessagesByChat removes every message of a chat and returns them.
	DeleteMessagesByChat(ctx context.Context, chatID uuid.UUID) ([]*Message, error)
}
