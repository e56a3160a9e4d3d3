package auth

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{users: make(map[string][]byte)} }

func (s *MemoryStore) Register(_ context.Context, identity, secret string) error {
	id := normalize(identity)
	hash, err := hashSecret(secret)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; ok {
		return ErrAlreadyExists
	}
	s.users[id] = hash
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, identity, secret string) (bool, error) {
	s.mu.RLock()
	hash := s.users[normalize(identity)]
	s.mu.RUnlock()
	return checkSecret(hash, secret), nil
}

func (s *MemoryStore) Close() error { return nil }
