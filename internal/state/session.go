// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/issuepilot/internal/types"
)

// JSONStore is a JSON-file-backed session store.
// It keeps every session in sessions/sessions.json under its root.
type JSONStore struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewJSONStore creates a new file-backed store rooted at the given directory.
func NewJSONStore(root string) *JSONStore {
	return &JSONStore{root: root, now: time.Now}
}

func (s *JSONStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *JSONStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

// loadIndex reads sessions.json and returns a map keyed by SessionID.
func (s *JSONStore) loadIndex() (map[types.SessionID]*types.Session, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.Session), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.SessionID]*types.Session, len(sessions))
	for _, sess := range sessions {
		index[sess.ID] = sess
	}
	return index, nil
}

// saveIndex writes the index ordered by creation time, atomically.
func (s *JSONStore) saveIndex(index map[types.SessionID]*types.Session) error {
	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (s *JSONStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sess, ok := index[id]
	if !ok {
		return nil, types.NotFound(id)
	}
	return sess, nil
}

// FindByIssue returns the session for the issue, or nil if there is none.
func (s *JSONStore) FindByIssue(_ context.Context, owner, repo string, number int) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return findByKey(index, types.NewIssueKey(owner, repo, number)), nil
}

// List returns all sessions.
func (s *JSONStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Create stores a new session built from draft.
func (s *JSONStore) Create(_ context.Context, draft types.SessionDraft) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if existing := findByKey(index, draft.Key()); existing != nil {
		return nil, &types.ConflictError{Key: draft.Key(), Session: existing}
	}

	sess := types.NewSession(draft, s.now())
	index[sess.ID] = sess
	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Update applies fn to the stored session and persists it.
func (s *JSONStore) Update(_ context.Context, id types.SessionID, fn func(*types.Session)) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sess, ok := index[id]
	if !ok {
		return nil, types.NotFound(id)
	}

	types.ApplyUpdate(sess, fn, s.now())
	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Delete removes the session with the given ID.
func (s *JSONStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return types.NotFound(id)
	}
	delete(index, id)
	return s.saveIndex(index)
}

func findByKey(index map[types.SessionID]*types.Session, key types.IssueKey) *types.Session {
	for _, sess := range index {
		if sess.Key() == key {
			return sess
		}
	}
	return nil
}
