// internal/types/interfaces.go
package types

import (
	"context"
)

// SessionStore is a durable keyed collection of sessions.
//
// Implementations enforce at most one session per IssueKey in Create and
// return copies, never references to stored records.
type SessionStore interface {
	Get(ctx context.Context, id SessionID) (*Session, error)
	// FindByIssue returns (nil, nil) when no session exists for the issue.
	FindByIssue(ctx context.Context, owner, repo string, number int) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Create(ctx context.Context, draft SessionDraft) (*Session, error)
	// Update applies fn to the stored session and persists the result.
	// Identity fields (id, owner, repo, issue number, created_at) are
	// immutable and restored after fn runs.
	Update(ctx context.Context, id SessionID, fn func(*Session)) (*Session, error)
	Delete(ctx context.Context, id SessionID) error
}
