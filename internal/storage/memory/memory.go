// Package memory is a thread-safe in-memory implementation of the user
// directory and the refresh token store, suitable for tests and local dev.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"authsvc/internal/domain/models"
	"authsvc/internal/storage"
)

type Storage struct {
	mu sync.RWMutex

	usersByEmail map[string]*models.User
	usersByID    map[string]*models.User
	// insertion order, so Users is stable
	userIDs []string

	tokens map[string]*models.RefreshToken
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		usersByEmail: make(map[string]*models.User),
		usersByID:    make(map[string]*models.User),
		tokens:       make(map[string]*models.RefreshToken),
	}
}

// SaveUser stores user under a fresh id. The email check and the insert
// happen under one lock, so concurrent saves of one email yield exactly one
// success.
func (s *Storage) SaveUser(_ context.Context, user models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return nil, storage.ErrUserExists
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := copyUser(&user)
	s.usersByEmail[user.Email] = stored
	s.usersByID[user.ID] = stored
	s.userIDs = append(s.userIDs, user.ID)

	return copyUser(stored), nil
}

// User returns the user with the given email, including its password hash.
func (s *Storage) User(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByEmail[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *Storage) UserByID(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(u), nil
}

// Users returns every user in registration order.
func (s *Storage) Users(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.userIDs))
	for _, id := range s.userIDs {
		users = append(users, *copyUser(s.usersByID[id]))
	}
	return users, nil
}

// SetUserActive flips the active flag of the user with the given id.
// No service operation deactivates users; this is a seeding helper for
// tests and local runs on the in-memory store.
func (s *Storage) SetUserActive(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ---------- Refresh Tokens ----------

func (s *Storage) SaveRefreshToken(_ context.Context, token models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.TokenHash]; exists {
		return storage.ErrTokenExists
	}

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	s.tokens[token.TokenHash] = &token
	return nil
}

// RefreshToken returns the token row regardless of its revoked flag.
func (s *Storage) RefreshToken(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// RevokeRefreshToken marks the row revoked. It fails with ErrTokenRevoked if
// another caller revoked it first.
func (s *Storage) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if t.Revoked {
		return storage.ErrTokenRevoked
	}
	t.Revoked = true
	return nil
}

// RevokeUserRefreshTokens revokes every outstanding token of userID and
// returns how many rows changed.
func (s *Storage) RevokeUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

// PurgeRefreshTokens deletes rows that expired before the given instant.
// Revoked rows that are not yet expired are kept so reuse stays detectable.
func (s *Storage) PurgeRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func copyUser(u *models.User) *models.User {
	cp := *u
	cp.PassHash = slices.Clone(u.PassHash)
	cp.Roles = slices.Clone(u.Roles)
	return &cp
}
