package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps pending dance sessions between initiate and callback.
type InMemoryStore struct {
	mu     sync.Mutex
	dances map[string]danceSession
	now    func() time.Time
}

// NewInMemoryStore constructs the store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		dances: make(map[string]danceSession),
		now:    time.Now,
	}
}

// NewID generates a random identifier.
func (s *InMemoryStore) NewID() string {
	return uuid.NewString()
}

// SaveDance stores or replaces a pending dance.
func (s *InMemoryStore) SaveDance(sess danceSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dances[sess.ID] = sess
}

// ConsumeDance fetches and removes a pending dance. Expired entries are
// dropped and reported as missing.
func (s *InMemoryStore) ConsumeDance(id string) (danceSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.dances[id]
	if !ok {
		return danceSession{}, false
	}
	delete(s.dances, id)
	if s.now().After(sess.ExpiresAt) {
		return danceSession{}, false
	}
	return sess, true
}

// DeleteDance removes a pending dance.
func (s *InMemoryStore) DeleteDance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dances, id)
}

// Len reports how many dances are pending.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dances)
}

// Sweep drops expired dances and returns how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.dances {
		if now.After(sess.ExpiresAt) {
			delete(s.dances, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *InMemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
