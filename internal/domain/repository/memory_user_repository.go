package repository

import (
	"context"
	"sync"
	"time"

	"consentido_auth/internal/common"
	"consentido_auth/internal/domain/model"
)

// memoryUserRepository keeps users in process memory. It backs USER_STORE=memory for
// local runs and is the directory used by handler and service tests.
type memoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	byName map[string]*model.User
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{byName: make(map[string]*model.User)}
}

func (r *memoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[user.Username]; taken {
		return common.ErrConflict
	}
	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byName[user.Username] = &stored
	return nil
}

func (r *memoryUserRepository) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byName[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (r *memoryUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byName[username]
	return ok, nil
}

func (r *memoryUserRepository) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[username]; !ok {
		return common.ErrNotFound
	}
	delete(r.byName, username)
	return nil
}
