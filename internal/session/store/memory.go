package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crew/internal/session/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// InMemoryStore stores sessions in memory for tests/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*models.Session
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[domain.SessionID]*models.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) FindActiveByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Token == token && session.IsActive {
			return session.Clone(), nil
		}
	}
	return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListActiveByUser(_ context.Context, userID domain.UserID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.Before(sessions[j].LastActivityAt)
	})
	return sessions, nil
}

func (s *InMemoryStore) DeactivateByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for id, session := range s.sessions {
		if session.Token == token && session.IsActive {
			updated := session.Clone()
			updated.Deactivate()
			s.sessions[id] = updated
			found = true
		}
	}
	if !found {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *InMemoryStore) DeactivateByID(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	updated := session.Clone()
	updated.Deactivate()
	s.sessions[sessionID] = updated
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// InMemorySettings is a fixed-value settings store for tests/dev.
type InMemorySettings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySettings constructs a settings store seeded with the given values.
func NewMemorySettings(values map[string]string) *InMemorySettings {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &InMemorySettings{values: copied}
}

func (s *InMemorySettings) Value(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("setting %q: %w", key, sentinel.ErrNotFound)
}

// Set updates a setting value (test helper; production settings are read-only).
func (s *InMemorySettings) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}
