package presence

import (
	"context"
	"sync"
	"time"

	"messenger-service/internal/models"
)

// Store tracks who is online. A user is online while at least one session
// for that user is active; the store counts sessions per user so presence
// only goes offline when the last one disconnects.
type Store interface {
	SessionConnected(ctx context.Context, userID int) error
	// SessionDisconnected reports whether the user went offline, i.e. this
	// was their last active session.
	SessionDisconnected(ctx context.Context, userID int) (bool, error)
	Get(ctx context.Context, userID int) (models.PresenceRecord, error)
}

// LocalStore is an in-process Store for tests and single-node runs.
type LocalStore struct {
	mu       sync.Mutex
	sessions map[int]int
	lastSeen map[int]time.Time
}

// NewLocalStore creates an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		sessions: make(map[int]int),
		lastSeen: make(map[int]time.Time),
	}
}

func (s *LocalStore) SessionConnected(_ context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID]++
	return nil
}

func (s *LocalStore) SessionDisconnected(_ context.Context, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[userID] > 0 {
		s.sessions[userID]--
	}
	if s.sessions[userID] > 0 {
		return false, nil
	}
	delete(s.sessions, userID)
	s.lastSeen[userID] = time.Now()
	return true, nil
}

func (s *LocalStore) Get(_ context.Context, userID int) (models.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := models.PresenceRecord{UserID: userID, Online: s.sessions[userID] > 0}
	if seen, ok := s.lastSeen[userID]; ok && !record.Online {
		t := seen
		record.LastSeen = &t
	}
	return record, nil
}
