package chat

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Chat is either a direct chat between two users or a group chat with an admin.
type Chat struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	IsGroupChat    bool       `json:"isGroupChat"`
	ParticipantIDs []int      `json:"participantIds"`
	AdminID        *int       `json:"adminId,omitempty"`
	LastMessageID  *uuid.UUID `json:"lastMessageId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (c *Chat) HasParticipant(userID int) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

func (c *Chat) IsAdmin(userID int) bool {
	return c.AdminID != nil && *c.AdminID == userID
}

// Others returns every participant except userID.
func (c *Chat) Others(userID int) []int {
	out := make([]int, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// Attachment points at an uploaded file. LocalPath never leaves the server.
type Attachment struct {
	URL       string `json:"url"`
	LocalPath string `json:"-"`
}

type Message struct {
	ID          uuid.UUID    `json:"id"`
	ChatID      uuid.UUID    `json:"chatId"`
	SenderID    int          `json:"senderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type CreateGroupRequest struct {
	Name         string `json:"name"`
	Participants []int  `json:"participants"`
}

type RenameGroupRequest struct {
	Name string `json:"name"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}
