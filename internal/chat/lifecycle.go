package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
)

const (
	directChatName = "One on one chat"
	minGroupSize   = 3
)

// LifecycleService owns chat creation and membership changes. Every mutation
// is written to the store before any room is notified.
type LifecycleService struct {
	core
}

func NewLifecycleService(d Deps) *LifecycleService {
	return &LifecycleService{core: newCore(d)}
}

func (s *LifecycleService) CreateOrGetDirectChat(ctx context.Context, requesterID, otherID int) (*Chat, error) {
	if requesterID == otherID {
		return nil, apperr.InvalidArgument("you cannot chat with yourself")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.requireUser(sctx, otherID, "receiver does not exist"); err != nil {
		return nil, err
	}

	existing, err := s.store.FindDirectChat(sctx, requesterID, otherID)
	if err == nil {
		return existing, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.FromContext("find direct chat", err)
	}

	c := &Chat{
		ID:             uuid.New(),
		Name:           directChatName,
		ParticipantIDs: []int{requesterID, otherID},
	}
	if err := s.store.CreateChat(sctx, c); err != nil {
		// Lost a race with the other participant.
		if apperr.Is(err, apperr.KindConflict) {
			existing, ferr := s.store.FindDirectChat(sctx, requesterID, otherID)
			return existing, apperr.FromContext("find direct chat", ferr)
		}
		return nil, apperr.FromContext("create chat", err)
	}

	created, err := s.store.GetChat(sctx, c.ID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	s.notify(ctx, gateway.UserRoom(otherID), gateway.EventNewChat, created, 0)
	return created, nil
}

func (s *LifecycleService) CreateGroupChat(ctx context.Context, creatorID int, name string, memberIDs []int) (*Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument("group name is required")
	}

	members := []int{creatorID}
	seen := map[int]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == creatorID {
			return nil, apperr.InvalidArgument("participants should not contain the group creator")
		}
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	if len(members) < minGroupSize {
		return nil, apperr.InvalidArgument("a group chat needs at least 3 members")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, id := range members[1:] {
		if err := s.requireUser(sctx, id, "participant does not exist"); err != nil {
			return nil, err
		}
	}

	admin := creatorID
	c := &Chat{
		ID:             uuid.New(),
		Name:           name,
		IsGroupChat:    true,
		ParticipantIDs: members,
		AdminID:        &admin,
	}
	if err := s.store.CreateChat(sctx, c); err != nil {
		return nil, apperr.FromContext("create chat", err)
	}

	created, err := s.store.GetChat(sctx, c.ID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	for _, id := range created.Others(creatorID) {
		s.notify(ctx, gateway.UserRoom(id), gateway.EventNewChat, created, 0)
	}
	return created, nil
}

func (s *LifecycleService) RenameGroupChat(ctx context.Context, actorID int, chatID uuid.UUID, name string) (*Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument("group name is required")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.adminGroup(sctx, chatID, actorID); err != nil {
		return nil, err
	}
	if err := s.store.RenameChat(sctx, chatID, name); err != nil {
		return nil, apperr.FromContext("rename chat", err)
	}

	updated, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventUpdateGroupName, updated, 0)
	return updated, nil
}

func (s *LifecycleService) AddParticipant(ctx context.Context, actorID int, chatID uuid.UUID, userID int) (*Chat, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.adminGroup(sctx, chatID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(sctx, userID, "user does not exist"); err != nil {
		return nil, err
	}
	if c.HasParticipant(userID) {
		return nil, apperr.Conflict("participant already in a group chat")
	}
	if err := s.store.AddParticipant(sctx, chatID, userID); err != nil {
		return nil, apperr.FromContext("add participant", err)
	}

	updated, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	s.notify(ctx, gateway.UserRoom(userID), gateway.EventNewChat, updated, 0)
	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventChatUpdated, updated, 0)
	return updated, nil
}

func (s *LifecycleService) RemoveParticipant(ctx context.Context, actorID int, chatID uuid.UUID, userID int) (*Chat, error) {
	if actorID == userID {
		return nil, apperr.InvalidArgument("an admin leaves the group instead of removing themselves")
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.adminGroup(sctx, chatID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(sctx, userID, "user does not exist"); err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Conflict("participant does not exist in the group chat")
	}
	if err := s.store.RemoveParticipant(sctx, chatID, userID); err != nil {
		return nil, apperr.FromContext("remove participant", err)
	}

	updated, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	s.notify(ctx, gateway.UserRoom(userID), gateway.EventLeaveChat, updated, 0)
	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventChatUpdated, updated, userID)
	return updated, nil
}

// LeaveGroupChat removes the actor from a group. A departing admin hands the
// role to the longest-standing remaining participant; the last member out
// deletes the chat.
func (s *LifecycleService) LeaveGroupChat(ctx context.Context, actorID int, chatID uuid.UUID) (*Chat, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.group(sctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actorID) {
		return nil, apperr.NotFound("you are not a part of this group chat")
	}

	remaining := c.Others(actorID)
	if len(remaining) == 0 {
		if err := s.cascadeDelete(sctx, c); err != nil {
			return nil, err
		}
		s.notify(ctx, gateway.UserRoom(actorID), gateway.EventLeaveChat, c, 0)
		return c, nil
	}

	if err := s.store.RemoveParticipant(sctx, chatID, actorID); err != nil {
		return nil, apperr.FromContext("remove participant", err)
	}
	if c.IsAdmin(actorID) {
		next := remaining[0]
		if err := s.store.SetAdmin(sctx, chatID, &next); err != nil {
			return nil, apperr.FromContext("set admin", err)
		}
	}

	updated, err := s.store.GetChat(sctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	s.notify(ctx, gateway.UserRoom(actorID), gateway.EventLeaveChat, updated, 0)
	s.notify(ctx, gateway.ChatRoom(chatID.String()), gateway.EventChatUpdated, updated, actorID)
	return updated, nil
}

func (s *LifecycleService) DeleteGroupChat(ctx context.Context, actorID int, chatID uuid.UUID) error {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.adminGroup(sctx, chatID, actorID)
	if err != nil {
		return err
	}
	if err := s.cascadeDelete(sctx, c); err != nil {
		return err
	}
	for _, id := range c.Others(actorID) {
		s.notify(ctx, gateway.UserRoom(id), gateway.EventLeaveChat, c, 0)
	}
	return nil
}

// DeleteDirectChat lets either participant delete the chat they share with otherID.
func (s *LifecycleService) DeleteDirectChat(ctx context.Context, actorID, otherID int) error {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.store.FindDirectChat(sctx, actorID, otherID)
	if err != nil {
		return apperr.FromContext("find direct chat", err)
	}
	if err := s.cascadeDelete(sctx, c); err != nil {
		return err
	}
	s.notify(ctx, gateway.UserRoom(otherID), gateway.EventLeaveChat, c, 0)
	return nil
}

// ListChats returns the user's chats, most recently active first.
func (s *LifecycleService) ListChats(ctx context.Context, userID int) ([]*Chat, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chats, err := s.store.ListChatsForUser(sctx, userID)
	if err != nil {
		return nil, apperr.FromContext("list chats", err)
	}
	if chats == nil {
		chats = []*Chat{}
	}
	return chats, nil
}

func (s *LifecycleService) GetGroupChat(ctx context.Context, actorID int, chatID uuid.UUID) (*Chat, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.group(sctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actorID) {
		return nil, apperr.PermissionDenied("you are not a part of this group chat")
	}
	return c, nil
}

// IsParticipant backs join verification on the socket gateway. Unknown or
// malformed chat ids are simply not joinable.
func (s *LifecycleService) IsParticipant(ctx context.Context, chatID string, userID int) (bool, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return false, nil
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.store.GetChat(sctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, apperr.FromContext("get chat", err)
	}
	return c.HasParticipant(userID), nil
}

func (s *LifecycleService) group(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromContext("get chat", err)
	}
	if !c.IsGroupChat {
		return nil, apperr.NotFound("group chat does not exist")
	}
	return c, nil
}

func (s *LifecycleService) adminGroup(ctx context.Context, chatID uuid.UUID, actorID int) (*Chat, error) {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsAdmin(actorID) {
		return nil, apperr.PermissionDenied("you are not an admin")
	}
	return c, nil
}

func (s *LifecycleService) requireUser(ctx context.Context, userID int, msg string) error {
	if s.users == nil {
		return nil
	}
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return apperr.FromContext("lookup user", err)
	}
	if !ok {
		return apperr.NotFound(msg)
	}
	return nil
}

// cascadeDelete removes messages and their files before the chat row.
func (s *LifecycleService) cascadeDelete(ctx context.Context, c *Chat) error {
	deleted, err := s.store.DeleteMessagesByChat(ctx, c.ID)
	if err != nil {
		return apperr.FromContext("delete messages", err)
	}
	s.removeAttachments(deleted...)

	if err := s.store.DeleteChat(ctx, c.ID); err != nil {
		return apperr.FromContext("delete chat", err)
	}
	return nil
}
