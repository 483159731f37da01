package state

import (
	"context"
	"sync"
	"time"

	"github.com/user/issuepilot/internal/types"
)

// MemoryStore keeps sessions in a map. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*types.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[types.SessionID]*types.Session),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, types.NotFound(id)
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) FindByIssue(_ context.Context, owner, repo string, number int) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return findByKey(s.sessions, types.NewIssueKey(owner, repo, number)).Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, draft types.SessionDraft) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := findByKey(s.sessions, draft.Key()); existing != nil {
		return nil, &types.ConflictError{Key: draft.Key(), Session: existing.Clone()}
	}
	sess := types.NewSession(draft, s.now())
	s.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id types.SessionID, fn func(*types.Session)) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, types.NotFound(id)
	}
	// The stored record is replaced only after fn returns.
	next := sess.Clone()
	types.ApplyUpdate(next, fn, s.now())
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return types.NotFound(id)
	}
	delete(s.sessions, id)
	return nil
}
