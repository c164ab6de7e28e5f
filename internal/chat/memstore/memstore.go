// Package memstore is an in-memory chat.Store for tests and single-node
// development (DB_DRIVER=memory).
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/chat"
)

type Store struct {
	mu       sync.RWMutex
	chats    map[uuid.UUID]*chat.Chat
	messages map[uuid.UUID]*chat.Message
	order    []uuid.UUID // message ids in insertion order
	now      func() time.Time
}

func New() *Store {
	return &Store{
		chats:    make(map[uuid.UUID]*chat.Chat),
		messages: make(map[uuid.UUID]*chat.Message),
		now:      time.Now,
	}
}

var _ chat.Store = (*Store)(nil)

func copyChat(c *chat.Chat) *chat.Chat {
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.AdminID != nil {
		id := *c.AdminID
		out.AdminID = &id
	}
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		out.LastMessageID = &id
	}
	return &out
}

func copyMessage(m *chat.Message) *chat.Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	return &out
}

func sameDirectPair(c *chat.Chat, a, b int) bool {
	return !c.IsGroupChat && len(c.ParticipantIDs) == 2 && c.HasParticipant(a) && c.HasParticipant(b)
}

// tick returns a timestamp strictly after every one handed out before, so
// ordering by UpdatedAt is stable even on coarse clocks.
func (s *Store) tick(prev time.Time) time.Time {
	t := s.now()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (s *Store) latestUpdate() time.Time {
	var latest time.Time
	for _, c := range s.chats {
		if c.UpdatedAt.After(latest) {
			latest = c.UpdatedAt
		}
	}
	return latest
}

func (s *Store) CreateChat(_ context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.IsGroupChat && len(c.ParticipantIDs) == 2 {
		for _, existing := range s.chats {
			if sameDirectPair(existing, c.ParticipantIDs[0], c.ParticipantIDs[1]) {
				return apperr.Conflict("direct chat already exists")
			}
		}
	}
	if _, ok := s.chats[c.ID]; ok {
		return apperr.Conflict("chat already exists")
	}

	now := s.tick(s.latestUpdate())
	c.CreatedAt, c.UpdatedAt = now, now
	s.chats[c.ID] = copyChat(c)
	return nil
}

func (s *Store) GetChat(_ context.Context, id uuid.UUID) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, apperr.NotFound("chat does not exist")
	}
	return copyChat(c), nil
}

func (s *Store) FindDirectChat(_ context.Context, a, b int) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.chats {
		if sameDirectPair(c, a, b) {
			return copyChat(c), nil
		}
	}
	return nil, apperr.NotFound("chat does not exist")
}

func (s *Store) ListChatsForUser(_ context.Context, userID int) ([]*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chat.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			out = append(out, copyChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// update applies fn to a stored chat and bumps UpdatedAt.
func (s *Store) update(id uuid.UUID, fn func(c *chat.Chat) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return apperr.NotFound("chat does not exist")
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = s.tick(s.latestUpdate())
	return nil
}

func (s *Store) RenameChat(_ context.Context, id uuid.UUID, name string) error {
	return s.update(id, func(c *chat.Chat) error {
		c.Name = name
		return nil
	})
}

func (s *Store) SetAdmin(_ context.Context, id uuid.UUID, adminID *int) error {
	return s.update(id, func(c *chat.Chat) error {
		c.AdminID = nil
		if adminID != nil {
			v := *adminID
			c.AdminID = &v
		}
		return nil
	})
}

func (s *Store) AddParticipant(_ context.Context, id uuid.UUID, userID int) error {
	return s.update(id, func(c *chat.Chat) error {
		if c.HasParticipant(userID) {
			return apperr.Conflict("participant already in a group chat")
		}
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
		return nil
	})
}

func (s *Store) RemoveParticipant(_ context.Context, id uuid.UUID, userID int) error {
	return s.update(id, func(c *chat.Chat) error {
		i := slices.Index(c.ParticipantIDs, userID)
		if i < 0 {
			return apperr.NotFound("participant does not exist in the group chat")
		}
		c.ParticipantIDs = slices.Delete(c.ParticipantIDs, i, i+1)
		return nil
	})
}

func (s *Store) RefreshLastMessage(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(c *chat.Chat) error {
		c.LastMessageID = nil
		if m := s.newest(id); m != nil {
			v := m.ID
			c.LastMessageID = &v
		}
		return nil
	})
}

func (s *Store) DeleteChat(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return apperr.NotFound("chat does not exist")
	}
	for _, m := range s.messages {
		if m.ChatID == id {
			return apperr.Conflict("chat still has messages")
		}
	}
	delete(s.chats, id)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[m.ChatID]; !ok {
		return apperr.NotFound("chat does not exist")
	}
	m.CreatedAt = s.now()
	s.messages[m.ID] = copyMessage(m)
	s.order = append(s.order, m.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("message does not exist")
	}
	return copyMessage(m), nil
}

func (s *Store) ListMessages(_ context.Context, chatID uuid.UUID, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chat.Message
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if m := s.messages[s.order[i]]; m.ChatID == chatID {
			out = append(out, copyMessage(m))
		}
	}
	return out, nil
}

// newest expects s.mu to be held.
func (s *Store) newest(chatID uuid.UUID) *chat.Message {
	for i := len(s.order) - 1; i >= 0; i-- {
		if m := s.messages[s.order[i]]; m.ChatID == chatID {
			return m
		}
	}
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return apperr.NotFound("message does not exist")
	}
	delete(s.messages, id)
	s.order = slices.DeleteFunc(s.order, func(v uuid.UUID) bool { return v == id })
	return nil
}

func (s *Store) DeleteMessagesByChat(_ context.Context, chatID uuid.UUID) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []*chat.Message
	s.order = slices.DeleteFunc(s.order, func(id uuid.UUID) bool {
		m := s.messages[id]
		if m.ChatID != chatID {
			return false
		}
		deleted = append(deleted, m)
		delete(s.messages, id)
		return true
	})
	return deleted, nil
}

// MessageCount reports how many messages a chat holds.
func (s *Store) MessageCount(chatID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n
}
