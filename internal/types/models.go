// internal/types/models.go
package types

import (
	"time"

	"github.com/user/issuepilot/pkg/devin"
)

// Status is the local lifecycle state of a session.
type Status string

const (
	StatusPending Status = "pending"
	StatusScoping Status = "scoping"
	StatusScoped  Status = "scoped"
	StatusFixing  Status = "fixing"
	StatusFixed   Status = "fixed"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScoping, StatusScoped, StatusFixing, StatusFixed, StatusFailed:
		return true
	}
	return false
}

// Active reports whether a remote session is in flight for s.
func (s Status) Active() bool {
	return s == StatusScoping || s == StatusFixing
}

// Session tracks one issue's scoping and fix lifecycle.
type Session struct {
	ID              SessionID            `json:"id"`
	IssueNumber     int                  `json:"issue_number"`
	IssueTitle      string               `json:"issue_title"`
	RepoOwner       string               `json:"repo_owner"`
	RepoName        string               `json:"repo_name"`
	Status          Status               `json:"status"`
	DevinSessionID  *string              `json:"devin_session_id"`
	DevinSessionURL *string              `json:"devin_session_url"`
	ScopingResult   *devin.ScopingResult `json:"scoping_result"`
	FixSessionID    *string              `json:"fix_session_id"`
	FixSessionURL   *string              `json:"fix_session_url"`
	FixResult       *devin.FixResult     `json:"fix_result"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Key returns the session's issue key.
func (s *Session) Key() IssueKey {
	return NewIssueKey(s.RepoOwner, s.RepoName, s.IssueNumber)
}

// Clone returns a deep copy so callers never alias stored records.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.DevinSessionID = cloneString(s.DevinSessionID)
	out.DevinSessionURL = cloneString(s.DevinSessionURL)
	out.FixSessionID = cloneString(s.FixSessionID)
	out.FixSessionURL = cloneString(s.FixSessionURL)
	out.ScopingResult = s.ScopingResult.Clone()
	out.FixResult = s.FixResult.Clone()
	return &out
}

// SessionDraft holds the caller-supplied fields of a session about to be
// created. The store assigns ID, CreatedAt and UpdatedAt.
type SessionDraft struct {
	IssueNumber     int
	IssueTitle      string
	RepoOwner       string
	RepoName        string
	Status          Status
	DevinSessionID  *string
	DevinSessionURL *string
}

// Key returns the draft's issue key.
func (d SessionDraft) Key() IssueKey {
	return NewIssueKey(d.RepoOwner, d.RepoName, d.IssueNumber)
}

// NewSession materializes a draft into a session record.
func NewSession(d SessionDraft, now time.Time) *Session {
	status := d.Status
	if status == "" {
		status = StatusPending
	}
	return &Session{
		ID:              NewSessionID(),
		IssueNumber:     d.IssueNumber,
		IssueTitle:      d.IssueTitle,
		RepoOwner:       d.RepoOwner,
		RepoName:        d.RepoName,
		Status:          status,
		DevinSessionID:  cloneString(d.DevinSessionID),
		DevinSessionURL: cloneString(d.DevinSessionURL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ApplyUpdate runs fn against s and restores the immutable identity fields
// afterwards. UpdatedAt is set to now.
func ApplyUpdate(s *Session, fn func(*Session), now time.Time) {
	id, key, created := s.ID, s.Key(), s.CreatedAt
	fn(s)
	s.ID = id
	s.RepoOwner, s.RepoName, s.IssueNumber = key.Owner, key.Repo, key.Number
	s.CreatedAt = created
	s.UpdatedAt = now
}

// StringPtr returns a pointer to v, or nil when v is empty.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
