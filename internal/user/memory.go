package user

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go-chat-relay/internal/apperr"
)

// MemoryRepository keeps users in process memory (DB_DRIVER=memory).
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, byID: make(map[int]User)}
}

func (r *MemoryRepository) CreateUser(_ context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.Username == user.Username {
			return nil, apperr.Conflict("username is already taken")
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.byID[user.ID] = *user
	return user, nil
}

func (r *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id int) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}

func (r *MemoryRepository) SearchUsers(_ context.Context, query string, excludeID int) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(query)
	users := []User{}
	for _, u := range r.byID {
		if u.ID != excludeID && strings.Contains(strings.ToLower(u.Username), query) {
			users = append(users, User{ID: u.ID, Username: u.Username})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > 10 {
		users = users[:10]
	}
	return users, nil
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, id int, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	u.Password = hash
	r.byID[id] = u
	return nil
}
